package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const payoutRequestColumns = `id, seller_organization_id, amount, currency, status, note, admin_note, rejection_reason, proof_reference, processed_by, requested_at, processed_at, completed_at, updated_at`

func scanPayoutRequest(row interface{ Scan(...any) error }) (PayoutRequest, error) {
	var i PayoutRequest
	err := row.Scan(
		&i.ID,
		&i.SellerOrganizationID,
		&i.Amount,
		&i.Currency,
		&i.Status,
		&i.Note,
		&i.AdminNote,
		&i.RejectionReason,
		&i.ProofReference,
		&i.ProcessedBy,
		&i.RequestedAt,
		&i.ProcessedAt,
		&i.CompletedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const insertPayoutRequest = `-- name: InsertPayoutRequest :one
INSERT INTO payout_requests (id, seller_organization_id, amount, currency, status, note, requested_at, updated_at)
VALUES ($1, $2, $3, $4, 'PENDING', $5, NOW(), NOW())
RETURNING ` + payoutRequestColumns + `
`

type InsertPayoutRequestParams struct {
	ID                   pgtype.UUID `json:"id"`
	SellerOrganizationID pgtype.UUID `json:"seller_organization_id"`
	Amount               int64       `json:"amount"`
	Currency             string      `json:"currency"`
	Note                 *string     `json:"note"`
}

func (q *Queries) InsertPayoutRequest(ctx context.Context, arg InsertPayoutRequestParams) (PayoutRequest, error) {
	row := q.db.QueryRow(ctx, insertPayoutRequest,
		arg.ID,
		arg.SellerOrganizationID,
		arg.Amount,
		arg.Currency,
		arg.Note,
	)
	return scanPayoutRequest(row)
}

const getPayoutRequest = `-- name: GetPayoutRequest :one
SELECT ` + payoutRequestColumns + `
FROM payout_requests
WHERE id = $1
`

func (q *Queries) GetPayoutRequest(ctx context.Context, id pgtype.UUID) (PayoutRequest, error) {
	return scanPayoutRequest(q.db.QueryRow(ctx, getPayoutRequest, id))
}

const transitionPayoutRequest = `-- name: TransitionPayoutRequest :one
UPDATE payout_requests
SET status = $3,
    admin_note = COALESCE($4, admin_note),
    rejection_reason = COALESCE($5, rejection_reason),
    proof_reference = COALESCE($6, proof_reference),
    processed_by = COALESCE($7, processed_by),
    processed_at = CASE WHEN $3 IN ('APPROVED', 'REJECTED') THEN NOW() ELSE processed_at END,
    completed_at = CASE WHEN $3 = 'COMPLETED' THEN NOW() ELSE completed_at END,
    updated_at = NOW()
WHERE id = $1 AND status = $2
RETURNING ` + payoutRequestColumns + `
`

type TransitionPayoutRequestParams struct {
	ID              pgtype.UUID `json:"id"`
	ExpectedStatus  string      `json:"expected_status"`
	Status          string      `json:"status"`
	AdminNote       *string     `json:"admin_note"`
	RejectionReason *string     `json:"rejection_reason"`
	ProofReference  *string     `json:"proof_reference"`
	ProcessedBy     pgtype.UUID `json:"processed_by"`
}

// TransitionPayoutRequest is a conditional update: it returns pgx.ErrNoRows
// when the request is no longer in ExpectedStatus.
func (q *Queries) TransitionPayoutRequest(ctx context.Context, arg TransitionPayoutRequestParams) (PayoutRequest, error) {
	row := q.db.QueryRow(ctx, transitionPayoutRequest,
		arg.ID,
		arg.ExpectedStatus,
		arg.Status,
		arg.AdminNote,
		arg.RejectionReason,
		arg.ProofReference,
		arg.ProcessedBy,
	)
	return scanPayoutRequest(row)
}

const listPayoutRequests = `-- name: ListPayoutRequests :many
SELECT ` + payoutRequestColumns + `
FROM payout_requests
WHERE ($1::TEXT IS NULL OR status = $1)
  AND ($2::UUID IS NULL OR seller_organization_id = $2)
ORDER BY requested_at DESC, id
LIMIT $3 OFFSET $4
`

type ListPayoutRequestsParams struct {
	Status               *string     `json:"status"`
	SellerOrganizationID pgtype.UUID `json:"seller_organization_id"`
	Limit                int32       `json:"limit"`
	Offset               int32       `json:"offset"`
}

func (q *Queries) ListPayoutRequests(ctx context.Context, arg ListPayoutRequestsParams) ([]PayoutRequest, error) {
	rows, err := q.db.Query(ctx, listPayoutRequests, arg.Status, arg.SellerOrganizationID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PayoutRequest
	for rows.Next() {
		i, err := scanPayoutRequest(rows)
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

const countPayoutRequests = `-- name: CountPayoutRequests :one
SELECT COUNT(*)
FROM payout_requests
WHERE ($1::TEXT IS NULL OR status = $1)
  AND ($2::UUID IS NULL OR seller_organization_id = $2)
`

type CountPayoutRequestsParams struct {
	Status               *string     `json:"status"`
	SellerOrganizationID pgtype.UUID `json:"seller_organization_id"`
}

func (q *Queries) CountPayoutRequests(ctx context.Context, arg CountPayoutRequestsParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countPayoutRequests, arg.Status, arg.SellerOrganizationID).Scan(&count)
	return count, err
}
