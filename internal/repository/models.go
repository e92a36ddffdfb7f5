package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Organization struct {
	ID          pgtype.UUID        `json:"id"`
	Name        string             `json:"name"`
	AccountType string             `json:"account_type"`
	CreatedAt   pgtype.Timestamptz `json:"created_at"`
}

type OrganizationBalance struct {
	OrganizationID  pgtype.UUID        `json:"organization_id"`
	AvailableAmount int64              `json:"available_amount"`
	PendingAmount   int64              `json:"pending_amount"`
	CreditAmount    int64              `json:"credit_amount"`
	Currency        string             `json:"currency"`
	CreatedAt       pgtype.Timestamptz `json:"created_at"`
	UpdatedAt       pgtype.Timestamptz `json:"updated_at"`
}

type CreditTransaction struct {
	ID             pgtype.UUID        `json:"id"`
	Seq            int64              `json:"seq"`
	OrganizationID pgtype.UUID        `json:"organization_id"`
	Amount         int64              `json:"amount"`
	BalanceAfter   int64              `json:"balance_after"`
	Type           string             `json:"type"`
	Reason         string             `json:"reason"`
	Note           *string            `json:"note"`
	Reference      *string            `json:"reference"`
	OrderID        pgtype.UUID        `json:"order_id"`
	CreatedBy      pgtype.UUID        `json:"created_by"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
}

type PayoutRequest struct {
	ID                   pgtype.UUID        `json:"id"`
	SellerOrganizationID pgtype.UUID        `json:"seller_organization_id"`
	Amount               int64              `json:"amount"`
	Currency             string             `json:"currency"`
	Status               string             `json:"status"`
	Note                 *string            `json:"note"`
	AdminNote            *string            `json:"admin_note"`
	RejectionReason      *string            `json:"rejection_reason"`
	ProofReference       *string            `json:"proof_reference"`
	ProcessedBy          pgtype.UUID        `json:"processed_by"`
	RequestedAt          pgtype.Timestamptz `json:"requested_at"`
	ProcessedAt          pgtype.Timestamptz `json:"processed_at"`
	CompletedAt          pgtype.Timestamptz `json:"completed_at"`
	UpdatedAt            pgtype.Timestamptz `json:"updated_at"`
}

type Order struct {
	ID                   pgtype.UUID        `json:"id"`
	BuyerOrganizationID  pgtype.UUID        `json:"buyer_organization_id"`
	SellerOrganizationID pgtype.UUID        `json:"seller_organization_id"`
	TotalAmount          int64              `json:"total_amount"`
	Currency             string             `json:"currency"`
	Status               string             `json:"status"`
	InspectionStatus     string             `json:"inspection_status"`
	PaymentStatus        string             `json:"payment_status"`
	CreatedAt            pgtype.Timestamptz `json:"created_at"`
	UpdatedAt            pgtype.Timestamptz `json:"updated_at"`
}

type OrderBalanceCredit struct {
	OrderID              pgtype.UUID        `json:"order_id"`
	SellerOrganizationID pgtype.UUID        `json:"seller_organization_id"`
	Amount               int64              `json:"amount"`
	Currency             string             `json:"currency"`
	EventID              *string            `json:"event_id"`
	CreditedAt           pgtype.Timestamptz `json:"credited_at"`
}

type OrderTimelineEntry struct {
	ID             pgtype.UUID        `json:"id"`
	OrderID        pgtype.UUID        `json:"order_id"`
	OrganizationID pgtype.UUID        `json:"organization_id"`
	Kind           string             `json:"kind"`
	Message        string             `json:"message"`
	Amount         *int64             `json:"amount"`
	Currency       *string            `json:"currency"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
}

type ClearingLeg struct {
	ID             pgtype.UUID        `json:"id"`
	FlowID         pgtype.UUID        `json:"flow_id"`
	OrderID        pgtype.UUID        `json:"order_id"`
	Leg            string             `json:"leg"`
	Phase          string             `json:"phase"`
	OrganizationID pgtype.UUID        `json:"organization_id"`
	Amount         int64              `json:"amount"`
	Currency       string             `json:"currency"`
	ProofReference *string            `json:"proof_reference"`
	CompletedAt    pgtype.Timestamptz `json:"completed_at"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

type AuditLog struct {
	ID         int64              `json:"id"`
	EntityType string             `json:"entity_type"`
	EntityID   pgtype.UUID        `json:"entity_id"`
	ActorID    pgtype.UUID        `json:"actor_id"`
	Action     string             `json:"action"`
	PrevState  *string            `json:"prev_state"`
	NextState  *string            `json:"next_state"`
	Metadata   []byte             `json:"metadata"`
	CreatedAt  pgtype.Timestamptz `json:"created_at"`
}

type OutboxEvent struct {
	ID            pgtype.UUID        `json:"id"`
	EventType     string             `json:"event_type"`
	AggregateType string             `json:"aggregate_type"`
	AggregateID   pgtype.UUID        `json:"aggregate_id"`
	ActorID       pgtype.UUID        `json:"actor_id"`
	Payload       []byte             `json:"payload"`
	Status        string             `json:"status"`
	Attempts      int32              `json:"attempts"`
	LastError     *string            `json:"last_error"`
	PublishedAt   pgtype.Timestamptz `json:"published_at"`
	CreatedAt     pgtype.Timestamptz `json:"created_at"`
	UpdatedAt     pgtype.Timestamptz `json:"updated_at"`
}

type IdempotencyKey struct {
	IdempotencyKey string             `json:"idempotency_key"`
	RequestHash    string             `json:"request_hash"`
	Method         string             `json:"method"`
	Path           string             `json:"path"`
	ResponseStatus int32              `json:"response_status"`
	ResponseBody   []byte             `json:"response_body"`
	ContentType    string             `json:"content_type"`
	InProgress     bool               `json:"in_progress"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}
