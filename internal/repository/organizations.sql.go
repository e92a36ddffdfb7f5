package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getOrganization = `-- name: GetOrganization :one
SELECT id, name, account_type, created_at
FROM organizations
WHERE id = $1
`

func (q *Queries) GetOrganization(ctx context.Context, id pgtype.UUID) (Organization, error) {
	row := q.db.QueryRow(ctx, getOrganization, id)
	var i Organization
	err := row.Scan(&i.ID, &i.Name, &i.AccountType, &i.CreatedAt)
	return i, err
}
