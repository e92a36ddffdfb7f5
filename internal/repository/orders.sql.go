package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getOrder = `-- name: GetOrder :one
SELECT id, buyer_organization_id, seller_organization_id, total_amount, currency, status, inspection_status, payment_status, created_at, updated_at
FROM orders
WHERE id = $1
`

func (q *Queries) GetOrder(ctx context.Context, id pgtype.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderForUpdate = `-- name: GetOrderForUpdate :one
SELECT id, buyer_organization_id, seller_organization_id, total_amount, currency, status, inspection_status, payment_status, created_at, updated_at
FROM orders
WHERE id = $1
FOR UPDATE
`

// GetOrderForUpdate locks the order row until the transaction ends.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id pgtype.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.BuyerOrganizationID,
		&i.SellerOrganizationID,
		&i.TotalAmount,
		&i.Currency,
		&i.Status,
		&i.InspectionStatus,
		&i.PaymentStatus,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const insertOrderBalanceCredit = `-- name: InsertOrderBalanceCredit :execrows
INSERT INTO order_balance_credits (order_id, seller_organization_id, amount, currency, event_id, credited_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (order_id) DO NOTHING
`

type InsertOrderBalanceCreditParams struct {
	OrderID              pgtype.UUID `json:"order_id"`
	SellerOrganizationID pgtype.UUID `json:"seller_organization_id"`
	Amount               int64       `json:"amount"`
	Currency             string      `json:"currency"`
	EventID              *string     `json:"event_id"`
}

// InsertOrderBalanceCredit returns 0 when the order was already credited.
func (q *Queries) InsertOrderBalanceCredit(ctx context.Context, arg InsertOrderBalanceCreditParams) (int64, error) {
	result, err := q.db.Exec(ctx, insertOrderBalanceCredit,
		arg.OrderID,
		arg.SellerOrganizationID,
		arg.Amount,
		arg.Currency,
		arg.EventID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getOrderBalanceCredit = `-- name: GetOrderBalanceCredit :one
SELECT order_id, seller_organization_id, amount, currency, event_id, credited_at
FROM order_balance_credits
WHERE order_id = $1
`

func (q *Queries) GetOrderBalanceCredit(ctx context.Context, orderID pgtype.UUID) (OrderBalanceCredit, error) {
	row := q.db.QueryRow(ctx, getOrderBalanceCredit, orderID)
	var i OrderBalanceCredit
	err := row.Scan(&i.OrderID, &i.SellerOrganizationID, &i.Amount, &i.Currency, &i.EventID, &i.CreditedAt)
	return i, err
}

const insertOrderTimelineEntry = `-- name: InsertOrderTimelineEntry :one
INSERT INTO order_timeline (id, order_id, organization_id, kind, message, amount, currency, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
RETURNING id, order_id, organization_id, kind, message, amount, currency, created_at
`

type InsertOrderTimelineEntryParams struct {
	ID             pgtype.UUID `json:"id"`
	OrderID        pgtype.UUID `json:"order_id"`
	OrganizationID pgtype.UUID `json:"organization_id"`
	Kind           string      `json:"kind"`
	Message        string      `json:"message"`
	Amount         *int64      `json:"amount"`
	Currency       *string     `json:"currency"`
}

func (q *Queries) InsertOrderTimelineEntry(ctx context.Context, arg InsertOrderTimelineEntryParams) (OrderTimelineEntry, error) {
	row := q.db.QueryRow(ctx, insertOrderTimelineEntry,
		arg.ID,
		arg.OrderID,
		arg.OrganizationID,
		arg.Kind,
		arg.Message,
		arg.Amount,
		arg.Currency,
	)
	var i OrderTimelineEntry
	err := row.Scan(&i.ID, &i.OrderID, &i.OrganizationID, &i.Kind, &i.Message, &i.Amount, &i.Currency, &i.CreatedAt)
	return i, err
}

const listOrderTimeline = `-- name: ListOrderTimeline :many
SELECT id, order_id, organization_id, kind, message, amount, currency, created_at
FROM order_timeline
WHERE order_id = $1
ORDER BY created_at, id
`

func (q *Queries) ListOrderTimeline(ctx context.Context, orderID pgtype.UUID) ([]OrderTimelineEntry, error) {
	rows, err := q.db.Query(ctx, listOrderTimeline, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderTimelineEntry
	for rows.Next() {
		var i OrderTimelineEntry
		if err := rows.Scan(&i.ID, &i.OrderID, &i.OrganizationID, &i.Kind, &i.Message, &i.Amount, &i.Currency, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
