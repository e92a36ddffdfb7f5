package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/models"
	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Balance components named in NegativeBalanceNotAllowedError.
const (
	ComponentAvailable = "available"
	ComponentPending   = "pending"
	ComponentCredit    = "credit"
)

// BalanceOptions configures the currency used for organizations without a
// balance row and whether the credit balance may go below zero.
type BalanceOptions struct {
	DefaultCurrency     string
	AllowNegativeCredit bool
}

// BalanceStore is the only writer of organization_balances.
type BalanceStore struct {
	store               QueryStore
	defaultCurrency     string
	allowNegativeCredit bool
}

func NewBalanceStore(store QueryStore, opts BalanceOptions) *BalanceStore {
	currency := strings.ToUpper(strings.TrimSpace(opts.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	return &BalanceStore{
		store:               store,
		defaultCurrency:     currency,
		allowNegativeCredit: opts.AllowNegativeCredit,
	}
}

// MutateParams are signed deltas in minor units.
type MutateParams struct {
	OrgID          uuid.UUID
	Currency       string
	DeltaAvailable int64
	DeltaPending   int64
	DeltaCredit    int64
}

// DefaultCurrency is reported for organizations that have no balance yet.
func (s *BalanceStore) DefaultCurrency() string {
	return s.defaultCurrency
}

// Get returns the current balance, or a zeroed one in the default currency.
// It never creates a row.
func (s *BalanceStore) Get(ctx context.Context, orgID uuid.UUID) (models.Balance, error) {
	row, err := s.store.Queries().GetOrganizationBalance(ctx, repository.ToPgUUID(orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.zero(orgID), nil
		}
		return models.Balance{}, fmt.Errorf("get organization balance: %w", err)
	}
	return toBalance(row), nil
}

// GetForUpdate locks the balance row for the rest of qtx's transaction.
// Without a row nothing is locked and a zeroed balance is returned.
func (s *BalanceStore) GetForUpdate(ctx context.Context, qtx *repository.Queries, orgID uuid.UUID) (models.Balance, error) {
	row, err := qtx.GetOrganizationBalanceForUpdate(ctx, repository.ToPgUUID(orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.zero(orgID), nil
		}
		return models.Balance{}, fmt.Errorf("lock organization balance: %w", err)
	}
	return toBalance(row), nil
}

// CurrencyOf returns the organization's balance currency, or the default.
func (s *BalanceStore) CurrencyOf(ctx context.Context, qtx *repository.Queries, orgID uuid.UUID) (string, error) {
	row, err := qtx.GetOrganizationBalance(ctx, repository.ToPgUUID(orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.defaultCurrency, nil
		}
		return "", fmt.Errorf("get organization balance: %w", err)
	}
	return row.Currency, nil
}

// Mutate applies the deltas in their own transaction.
func (s *BalanceStore) Mutate(ctx context.Context, p MutateParams) (models.Balance, error) {
	var out models.Balance
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		out, err = s.MutateTx(ctx, qtx, p)
		return err
	})
	return out, err
}

// MutateTx applies the deltas as a single increment on qtx, creating the row
// on first use. The caller's transaction must be rolled back on error.
func (s *BalanceStore) MutateTx(ctx context.Context, qtx *repository.Queries, p MutateParams) (models.Balance, error) {
	ctx, span := observability.StartSpan(ctx, "balance.mutate", observability.OrganizationID(p.OrgID.String()))
	bal, err := s.mutate(ctx, qtx, p)
	observability.EndSpan(span, err)
	if err != nil {
		observability.IncrementBalanceMutation("rejected")
		return models.Balance{}, err
	}
	observability.IncrementBalanceMutation("applied")
	return bal, nil
}

func (s *BalanceStore) mutate(ctx context.Context, qtx *repository.Queries, p MutateParams) (models.Balance, error) {
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return models.Balance{}, domain.NewValidationError("currency", fmt.Sprintf("invalid currency code %q", p.Currency))
	}
	if p.OrgID == uuid.Nil {
		return models.Balance{}, domain.NewValidationError("organization_id", "is required")
	}

	row, err := qtx.IncrementOrganizationBalance(ctx, repository.IncrementOrganizationBalanceParams{
		OrganizationID: repository.ToPgUUID(p.OrgID),
		DeltaAvailable: p.DeltaAvailable,
		DeltaPending:   p.DeltaPending,
		DeltaCredit:    p.DeltaCredit,
		Currency:       currency,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, getErr := qtx.GetOrganizationBalance(ctx, repository.ToPgUUID(p.OrgID))
			if getErr != nil {
				return models.Balance{}, fmt.Errorf("read balance after currency conflict: %w", getErr)
			}
			return models.Balance{}, &domain.CurrencyMismatchError{OrgID: p.OrgID, Current: current.Currency, Requested: currency}
		}
		if isForeignKeyViolation(err) {
			return models.Balance{}, domain.NewNotFoundError("organization", p.OrgID)
		}
		return models.Balance{}, fmt.Errorf("increment organization balance: %w", err)
	}

	bal := toBalance(row)
	if err := s.checkNegativePolicy(bal, p); err != nil {
		zap.L().Warn("balance mutation rejected",
			zap.String("organization_id", p.OrgID.String()),
			zap.Error(err),
		)
		return models.Balance{}, err
	}
	return bal, nil
}

// Available may go negative (debt). Pending never may; credit only when
// allowed. A component that was already negative may still be raised.
func (s *BalanceStore) checkNegativePolicy(bal models.Balance, p MutateParams) error {
	if p.DeltaPending < 0 && bal.Pending < 0 {
		return &domain.NegativeBalanceNotAllowedError{OrgID: p.OrgID, Component: ComponentPending, Current: bal.Pending - p.DeltaPending, Delta: p.DeltaPending}
	}
	if !s.allowNegativeCredit && p.DeltaCredit < 0 && bal.Credit < 0 {
		return &domain.NegativeBalanceNotAllowedError{OrgID: p.OrgID, Component: ComponentCredit, Current: bal.Credit - p.DeltaCredit, Delta: p.DeltaCredit}
	}
	return nil
}

func (s *BalanceStore) zero(orgID uuid.UUID) models.Balance {
	return models.Balance{OrganizationID: orgID, Currency: s.defaultCurrency}
}

func toBalance(row repository.OrganizationBalance) models.Balance {
	return models.Balance{
		OrganizationID: repository.FromPgUUID(row.OrganizationID),
		Available:      row.AvailableAmount,
		Pending:        row.PendingAmount,
		Credit:         row.CreditAmount,
		Currency:       strings.TrimSpace(row.Currency),
		UpdatedAt:      row.UpdatedAt.Time,
		Exists:         true,
	}
}
