package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const creditTransactionColumns = `id, seq, organization_id, amount, balance_after, type, reason, note, reference, order_id, created_by, created_at`

func scanCreditTransaction(row interface{ Scan(...any) error }) (CreditTransaction, error) {
	var i CreditTransaction
	err := row.Scan(
		&i.ID,
		&i.Seq,
		&i.OrganizationID,
		&i.Amount,
		&i.BalanceAfter,
		&i.Type,
		&i.Reason,
		&i.Note,
		&i.Reference,
		&i.OrderID,
		&i.CreatedBy,
		&i.CreatedAt,
	)
	return i, err
}

const insertCreditTransaction = `-- name: InsertCreditTransaction :one
INSERT INTO credit_transactions (id, organization_id, amount, balance_after, type, reason, note, reference, order_id, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + creditTransactionColumns + `
`

type InsertCreditTransactionParams struct {
	ID             pgtype.UUID `json:"id"`
	OrganizationID pgtype.UUID `json:"organization_id"`
	Amount         int64       `json:"amount"`
	BalanceAfter   int64       `json:"balance_after"`
	Type           string      `json:"type"`
	Reason         string      `json:"reason"`
	Note           *string     `json:"note"`
	Reference      *string     `json:"reference"`
	OrderID        pgtype.UUID `json:"order_id"`
	CreatedBy      pgtype.UUID `json:"created_by"`
}

func (q *Queries) InsertCreditTransaction(ctx context.Context, arg InsertCreditTransactionParams) (CreditTransaction, error) {
	row := q.db.QueryRow(ctx, insertCreditTransaction,
		arg.ID,
		arg.OrganizationID,
		arg.Amount,
		arg.BalanceAfter,
		arg.Type,
		arg.Reason,
		arg.Note,
		arg.Reference,
		arg.OrderID,
		arg.CreatedBy,
	)
	return scanCreditTransaction(row)
}

const listCreditTransactions = `-- name: ListCreditTransactions :many
SELECT ` + creditTransactionColumns + `
FROM credit_transactions
WHERE organization_id = $1
ORDER BY seq DESC
LIMIT $2 OFFSET $3
`

type ListCreditTransactionsParams struct {
	OrganizationID pgtype.UUID `json:"organization_id"`
	Limit          int32       `json:"limit"`
	Offset         int32       `json:"offset"`
}

func (q *Queries) ListCreditTransactions(ctx context.Context, arg ListCreditTransactionsParams) ([]CreditTransaction, error) {
	rows, err := q.db.Query(ctx, listCreditTransactions, arg.OrganizationID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CreditTransaction
	for rows.Next() {
		i, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countCreditTransactions = `-- name: CountCreditTransactions :one
SELECT COUNT(*) FROM credit_transactions WHERE organization_id = $1
`

func (q *Queries) CountCreditTransactions(ctx context.Context, organizationID pgtype.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countCreditTransactions, organizationID).Scan(&count)
	return count, err
}
