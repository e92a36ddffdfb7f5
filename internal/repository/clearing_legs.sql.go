package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const clearingLegColumns = `id, flow_id, order_id, leg, phase, organization_id, amount, currency, proof_reference, completed_at, created_at, updated_at`

func scanClearingLeg(row interface{ Scan(...any) error }) (ClearingLeg, error) {
	var i ClearingLeg
	err := row.Scan(
		&i.ID,
		&i.FlowID,
		&i.OrderID,
		&i.Leg,
		&i.Phase,
		&i.OrganizationID,
		&i.Amount,
		&i.Currency,
		&i.ProofReference,
		&i.CompletedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectClearingLegs(rows pgx.Rows) ([]ClearingLeg, error) {
	defer rows.Close()
	var items []ClearingLeg
	for rows.Next() {
		i, err := scanClearingLeg(rows)
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

const insertClearingLeg = `-- name: InsertClearingLeg :execrows
INSERT INTO clearing_legs (id, flow_id, order_id, leg, phase, organization_id, amount, currency, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'PENDING', $5, $6, $7, NOW(), NOW())
ON CONFLICT (order_id, leg) DO NOTHING
`

type InsertClearingLegParams struct {
	ID             pgtype.UUID `json:"id"`
	FlowID         pgtype.UUID `json:"flow_id"`
	OrderID        pgtype.UUID `json:"order_id"`
	Leg            string      `json:"leg"`
	OrganizationID pgtype.UUID `json:"organization_id"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency"`
}

// InsertClearingLeg returns 0 when the (order_id, leg) pair already exists.
func (q *Queries) InsertClearingLeg(ctx context.Context, arg InsertClearingLegParams) (int64, error) {
	result, err := q.db.Exec(ctx, insertClearingLeg,
		arg.ID,
		arg.FlowID,
		arg.OrderID,
		arg.Leg,
		arg.OrganizationID,
		arg.Amount,
		arg.Currency,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getClearingLegsByOrder = `-- name: GetClearingLegsByOrder :many
SELECT ` + clearingLegColumns + `
FROM clearing_legs
WHERE order_id = $1
ORDER BY leg
`

func (q *Queries) GetClearingLegsByOrder(ctx context.Context, orderID pgtype.UUID) ([]ClearingLeg, error) {
	rows, err := q.db.Query(ctx, getClearingLegsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	return collectClearingLegs(rows)
}

const getClearingLeg = `-- name: GetClearingLeg :one
SELECT ` + clearingLegColumns + `
FROM clearing_legs
WHERE id = $1
`

func (q *Queries) GetClearingLeg(ctx context.Context, id pgtype.UUID) (ClearingLeg, error) {
	return scanClearingLeg(q.db.QueryRow(ctx, getClearingLeg, id))
}

const getClearingLegByOrderAndKind = `-- name: GetClearingLegByOrderAndKind :one
SELECT ` + clearingLegColumns + `
FROM clearing_legs
WHERE order_id = $1 AND leg = $2
`

type GetClearingLegByOrderAndKindParams struct {
	OrderID pgtype.UUID `json:"order_id"`
	Leg     string      `json:"leg"`
}

func (q *Queries) GetClearingLegByOrderAndKind(ctx context.Context, arg GetClearingLegByOrderAndKindParams) (ClearingLeg, error) {
	return scanClearingLeg(q.db.QueryRow(ctx, getClearingLegByOrderAndKind, arg.OrderID, arg.Leg))
}

const advanceClearingLegPhase = `-- name: AdvanceClearingLegPhase :one
UPDATE clearing_legs
SET phase = $3,
    proof_reference = COALESCE($4, proof_reference),
    completed_at = CASE WHEN $3 = 'COMPLETED' THEN NOW() ELSE completed_at END,
    updated_at = NOW()
WHERE id = $1 AND phase = $2
RETURNING ` + clearingLegColumns + `
`

type AdvanceClearingLegPhaseParams struct {
	ID             pgtype.UUID `json:"id"`
	ExpectedPhase  string      `json:"expected_phase"`
	Phase          string      `json:"phase"`
	ProofReference *string     `json:"proof_reference"`
}

// AdvanceClearingLegPhase returns pgx.ErrNoRows when the leg left ExpectedPhase.
func (q *Queries) AdvanceClearingLegPhase(ctx context.Context, arg AdvanceClearingLegPhaseParams) (ClearingLeg, error) {
	row := q.db.QueryRow(ctx, advanceClearingLegPhase, arg.ID, arg.ExpectedPhase, arg.Phase, arg.ProofReference)
	return scanClearingLeg(row)
}

const listClearingLegs = `-- name: ListClearingLegs :many
SELECT ` + clearingLegColumns + `
FROM clearing_legs
WHERE leg = $1
  AND ($2::TEXT IS NULL OR phase = $2)
  AND ($3::UUID IS NULL OR organization_id = $3)
ORDER BY created_at DESC, id
LIMIT $4 OFFSET $5
`

type ListClearingLegsParams struct {
	Leg            string      `json:"leg"`
	Phase          *string     `json:"phase"`
	OrganizationID pgtype.UUID `json:"organization_id"`
	Limit          int32       `json:"limit"`
	Offset         int32       `json:"offset"`
}

func (q *Queries) ListClearingLegs(ctx context.Context, arg ListClearingLegsParams) ([]ClearingLeg, error) {
	rows, err := q.db.Query(ctx, listClearingLegs, arg.Leg, arg.Phase, arg.OrganizationID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectClearingLegs(rows)
}

const countClearingLegs = `-- name: CountClearingLegs :one
SELECT COUNT(*)
FROM clearing_legs
WHERE leg = $1
  AND ($2::TEXT IS NULL OR phase = $2)
  AND ($3::UUID IS NULL OR organization_id = $3)
`

type CountClearingLegsParams struct {
	Leg            string      `json:"leg"`
	Phase          *string     `json:"phase"`
	OrganizationID pgtype.UUID `json:"organization_id"`
}

func (q *Queries) CountClearingLegs(ctx context.Context, arg CountClearingLegsParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countClearingLegs, arg.Leg, arg.Phase, arg.OrganizationID).Scan(&count)
	return count, err
}
