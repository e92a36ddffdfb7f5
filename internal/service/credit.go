package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/models"
	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/ayo6706/marketplace-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CreditLedger records promotional credit adjustments. Every adjustment
// changes credit_amount and appends a credit_transactions row atomically.
type CreditLedger struct {
	store    QueryStore
	balances *BalanceStore
	audit    *AuditService
	events   *OutboxService
}

func NewCreditLedger(store QueryStore, balances *BalanceStore, events *OutboxService) *CreditLedger {
	return &CreditLedger{
		store:    store,
		balances: balances,
		audit:    NewAuditService(store),
		events:   events,
	}
}

// AdjustmentInput is an admin credit adjustment. Amount is unsigned; Type
// decides the direction.
type AdjustmentInput struct {
	OrgID       uuid.UUID
	AccountType string
	Amount      int64
	Type        string
	Reason      string
	Note        *string
	Reference   *string
	OrderID     *uuid.UUID
	ActorID     *uuid.UUID
}

func (in *AdjustmentInput) normalize() error {
	in.AccountType = strings.ToUpper(strings.TrimSpace(in.AccountType))
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	in.Reason = strings.TrimSpace(in.Reason)
	in.Note = trimmedPtr(in.Note)
	in.Reference = trimmedPtr(in.Reference)

	if in.Amount <= 0 {
		return domain.NewValidationError("amount", "must be positive")
	}
	if in.Type != domain.CreditTypeCredit && in.Type != domain.CreditTypeDebit {
		return domain.NewValidationError("type", fmt.Sprintf("must be %s or %s", domain.CreditTypeCredit, domain.CreditTypeDebit))
	}
	if in.Reason == "" {
		return domain.NewValidationError("reason", "is required")
	}
	if !domain.IsValidAccountType(in.AccountType) {
		return domain.NewValidationError("account_type", fmt.Sprintf("unknown organization type %q", in.AccountType))
	}
	return nil
}

type creditAdjustedPayload struct {
	OrganizationID uuid.UUID  `json:"organization_id"`
	TransactionID  uuid.UUID  `json:"transaction_id"`
	Amount         int64      `json:"amount"`
	BalanceAfter   int64      `json:"balance_after"`
	Currency       string     `json:"currency"`
	Type           string     `json:"type"`
	Reason         string     `json:"reason"`
	OrderID        *uuid.UUID `json:"order_id,omitempty"`
}

// ApplyAdjustment changes the organization's credit balance by ±Amount and
// records the transaction with the resulting balance.
func (s *CreditLedger) ApplyAdjustment(ctx context.Context, in AdjustmentInput) (models.CreditTransaction, error) {
	ctx, span := observability.StartSpan(ctx, "credit.apply_adjustment",
		observability.OrganizationID(in.OrgID.String()),
		observability.Amount(in.Amount),
	)
	tx, err := s.applyAdjustment(ctx, in)
	observability.EndSpan(span, err)
	return tx, err
}

func (s *CreditLedger) applyAdjustment(ctx context.Context, in AdjustmentInput) (models.CreditTransaction, error) {
	if err := in.normalize(); err != nil {
		return models.CreditTransaction{}, err
	}
	if err := requireOrganization(ctx, s.store.Queries(), in.OrgID, in.AccountType); err != nil {
		return models.CreditTransaction{}, err
	}

	delta := in.Amount
	if in.Type == domain.CreditTypeDebit {
		delta = -in.Amount
	}

	var out repository.CreditTransaction
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		currency, err := s.balances.CurrencyOf(ctx, qtx, in.OrgID)
		if err != nil {
			return err
		}
		bal, err := s.balances.MutateTx(ctx, qtx, MutateParams{
			OrgID:       in.OrgID,
			Currency:    currency,
			DeltaCredit: delta,
		})
		if err != nil {
			return err
		}

		out, err = qtx.InsertCreditTransaction(ctx, repository.InsertCreditTransactionParams{
			ID:             repository.ToPgUUID(uuid.New()),
			OrganizationID: repository.ToPgUUID(in.OrgID),
			Amount:         delta,
			BalanceAfter:   bal.Credit,
			Type:           in.Type,
			Reason:         in.Reason,
			Note:           in.Note,
			Reference:      in.Reference,
			OrderID:        repository.ToPgUUIDPtr(in.OrderID),
			CreatedBy:      repository.ToPgUUIDPtr(in.ActorID),
		})
		if err != nil {
			return fmt.Errorf("insert credit transaction: %w", err)
		}
		txID := repository.FromPgUUID(out.ID)

		if err := s.audit.Write(ctx, qtx, AuditEntry{
			EntityType: "organization_credit",
			EntityID:   in.OrgID,
			Actor:      in.ActorID,
			Action:     "credit_adjusted",
			From:       strconv.FormatInt(bal.Credit-delta, 10),
			To:         strconv.FormatInt(bal.Credit, 10),
			Metadata: map[string]any{
				"transaction_id": txID,
				"amount":         delta,
				"reason":         in.Reason,
			},
		}); err != nil {
			return err
		}

		return s.events.Emit(ctx, qtx, Event{
			Type:          domain.EventCreditAdjusted,
			AggregateType: "organization",
			AggregateID:   in.OrgID,
			ActorID:       in.ActorID,
			Payload: creditAdjustedPayload{
				OrganizationID: in.OrgID,
				TransactionID:  txID,
				Amount:         delta,
				BalanceAfter:   bal.Credit,
				Currency:       bal.Currency,
				Type:           in.Type,
				Reason:         in.Reason,
				OrderID:        in.OrderID,
			},
		})
	})
	if err != nil {
		return models.CreditTransaction{}, err
	}

	zap.L().Info("credit adjusted",
		zap.String("organization_id", in.OrgID.String()),
		zap.Int64("amount", delta),
		zap.Int64("balance_after", out.BalanceAfter),
	)
	return toCreditTransaction(out), nil
}

// List returns one page of transactions, newest first. page is 1-based.
func (s *CreditLedger) List(ctx context.Context, orgID uuid.UUID, page, limit int) (models.CreditTransactionPage, error) {
	if page < 1 {
		page = 1
	}
	limit = clampLimit(limit)
	offset, err := pageOffset(int64(page-1) * int64(limit))
	if err != nil {
		return models.CreditTransactionPage{}, err
	}

	queries := s.store.Queries()
	rows, err := queries.ListCreditTransactions(ctx, repository.ListCreditTransactionsParams{
		OrganizationID: repository.ToPgUUID(orgID),
		Limit:          int32(limit),
		Offset:         offset,
	})
	if err != nil {
		return models.CreditTransactionPage{}, fmt.Errorf("list credit transactions: %w", err)
	}
	total, err := queries.CountCreditTransactions(ctx, repository.ToPgUUID(orgID))
	if err != nil {
		return models.CreditTransactionPage{}, fmt.Errorf("count credit transactions: %w", err)
	}

	items := make([]models.CreditTransaction, 0, len(rows))
	for _, row := range rows {
		items = append(items, toCreditTransaction(row))
	}
	return models.CreditTransactionPage{Items: items, Page: page, Limit: limit, Total: total}, nil
}

// requireOrganization fails with NotFoundError unless orgID exists with the
// given account type. An empty accountType accepts any type.
func requireOrganization(ctx context.Context, q *repository.Queries, orgID uuid.UUID, accountType string) error {
	org, err := q.GetOrganization(ctx, repository.ToPgUUID(orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("organization", orgID)
		}
		return fmt.Errorf("get organization: %w", err)
	}
	if accountType != "" && !strings.EqualFold(org.AccountType, accountType) {
		return domain.NewNotFoundError("organization", orgID)
	}
	return nil
}

func toCreditTransaction(row repository.CreditTransaction) models.CreditTransaction {
	return models.CreditTransaction{
		ID:             repository.FromPgUUID(row.ID),
		OrganizationID: repository.FromPgUUID(row.OrganizationID),
		Amount:         row.Amount,
		BalanceAfter:   row.BalanceAfter,
		Type:           row.Type,
		Reason:         row.Reason,
		Note:           row.Note,
		Reference:      row.Reference,
		OrderID:        repository.FromPgUUIDPtr(row.OrderID),
		CreatedBy:      repository.FromPgUUIDPtr(row.CreatedBy),
		CreatedAt:      row.CreatedAt.Time,
	}
}
