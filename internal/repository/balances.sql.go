package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const balanceColumns = `organization_id, available_amount, pending_amount, credit_amount, currency, created_at, updated_at`

func scanBalance(row interface{ Scan(...any) error }) (OrganizationBalance, error) {
	var i OrganizationBalance
	err := row.Scan(
		&i.OrganizationID,
		&i.AvailableAmount,
		&i.PendingAmount,
		&i.CreditAmount,
		&i.Currency,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getOrganizationBalance = `-- name: GetOrganizationBalance :one
SELECT ` + balanceColumns + `
FROM organization_balances
WHERE organization_id = $1
`

func (q *Queries) GetOrganizationBalance(ctx context.Context, organizationID pgtype.UUID) (OrganizationBalance, error) {
	return scanBalance(q.db.QueryRow(ctx, getOrganizationBalance, organizationID))
}

const getOrganizationBalanceForUpdate = `-- name: GetOrganizationBalanceForUpdate :one
SELECT ` + balanceColumns + `
FROM organization_balances
WHERE organization_id = $1
FOR UPDATE
`

func (q *Queries) GetOrganizationBalanceForUpdate(ctx context.Context, organizationID pgtype.UUID) (OrganizationBalance, error) {
	return scanBalance(q.db.QueryRow(ctx, getOrganizationBalanceForUpdate, organizationID))
}

const incrementOrganizationBalance = `-- name: IncrementOrganizationBalance :one
INSERT INTO organization_balances (organization_id, available_amount, pending_amount, credit_amount, currency, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
ON CONFLICT (organization_id) DO UPDATE
SET available_amount = organization_balances.available_amount + EXCLUDED.available_amount,
    pending_amount = organization_balances.pending_amount + EXCLUDED.pending_amount,
    credit_amount = organization_balances.credit_amount + EXCLUDED.credit_amount,
    updated_at = NOW()
WHERE organization_balances.currency = EXCLUDED.currency
RETURNING ` + balanceColumns + `
`

type IncrementOrganizationBalanceParams struct {
	OrganizationID pgtype.UUID `json:"organization_id"`
	DeltaAvailable int64       `json:"delta_available"`
	DeltaPending   int64       `json:"delta_pending"`
	DeltaCredit    int64       `json:"delta_credit"`
	Currency       string      `json:"currency"`
}

// IncrementOrganizationBalance applies the deltas in one statement. It returns
// pgx.ErrNoRows when the existing row holds a different currency.
func (q *Queries) IncrementOrganizationBalance(ctx context.Context, arg IncrementOrganizationBalanceParams) (OrganizationBalance, error) {
	row := q.db.QueryRow(ctx, incrementOrganizationBalance,
		arg.OrganizationID,
		arg.DeltaAvailable,
		arg.DeltaPending,
		arg.DeltaCredit,
		arg.Currency,
	)
	return scanBalance(row)
}

const listCreditReconciliationMismatches = `-- name: ListCreditReconciliationMismatches :many
SELECT b.organization_id,
       b.credit_amount,
       COALESCE(t.total, 0)::BIGINT AS transaction_sum,
       COALESCE(l.balance_after, 0)::BIGINT AS last_balance_after
FROM organization_balances b
LEFT JOIN (
    SELECT organization_id, SUM(amount) AS total
    FROM credit_transactions
    GROUP BY organization_id
) t ON t.organization_id = b.organization_id
LEFT JOIN LATERAL (
    SELECT balance_after
    FROM credit_transactions ct
    WHERE ct.organization_id = b.organization_id
    ORDER BY ct.seq DESC
    LIMIT 1
) l ON TRUE
WHERE b.credit_amount <> COALESCE(t.total, 0)
   OR b.credit_amount <> COALESCE(l.balance_after, 0)
`

type ListCreditReconciliationMismatchesRow struct {
	OrganizationID   pgtype.UUID `json:"organization_id"`
	CreditAmount     int64       `json:"credit_amount"`
	TransactionSum   int64       `json:"transaction_sum"`
	LastBalanceAfter int64       `json:"last_balance_after"`
}

func (q *Queries) ListCreditReconciliationMismatches(ctx context.Context) ([]ListCreditReconciliationMismatchesRow, error) {
	rows, err := q.db.Query(ctx, listCreditReconciliationMismatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListCreditReconciliationMismatchesRow
	for rows.Next() {
		var i ListCreditReconciliationMismatchesRow
		if err := rows.Scan(&i.OrganizationID, &i.CreditAmount, &i.TransactionSum, &i.LastBalanceAfter); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countOrganizationBalances = `-- name: CountOrganizationBalances :one
SELECT COUNT(*) FROM organization_balances
`

func (q *Queries) CountOrganizationBalances(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countOrganizationBalances).Scan(&count)
	return count, err
}
