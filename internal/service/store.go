package service

import (
	"context"

	"github.com/ayo6706/marketplace-ledger/internal/repository"
)

// QueryStore is what the ledger services need from persistence. Every
// balance mutation and its ledger rows go through one RunInTx call.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
	RunReadOnly(ctx context.Context, fn func(q *repository.Queries) error) error
}

var _ QueryStore = (*repository.Store)(nil)
