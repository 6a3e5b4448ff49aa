package marketplace

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/meterhub/internal/address"
)

// Pricing is what one call of a service costs.
type Pricing struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Unit     string          `json:"unit"` // per_call, per_token, ...
}

// Reputation is the aggregate a service earns from ratings and jobs.
// Rating and ReviewCount only change through UpdateReputation.
type Reputation struct {
	Rating            float64 `json:"rating"`
	ReviewCount       int64   `json:"review_count"`
	JobCount          int64   `json:"job_count"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// Service is a registered, callable, metered capability.
type Service struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	ProviderID     string         `json:"provider_id"`
	ProviderWallet string         `json:"provider_wallet"`
	Chain          address.Chain  `json:"chain"`
	Endpoint       string         `json:"endpoint"`
	Capabilities   []string       `json:"capabilities"`
	Pricing        Pricing        `json:"pricing"`
	Reputation     Reputation     `json:"reputation"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedBy      string         `json:"created_by"`
	UpdatedBy      string         `json:"updated_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
}

// HasAnyCapability reports whether s offers at least one of caps.
func (s Service) HasAnyCapability(caps []string) bool {
	for _, want := range caps {
		for _, have := range s.Capabilities {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

func (s Service) clone() Service {
	out := s
	out.Capabilities = append([]string(nil), s.Capabilities...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.DeletedAt != nil {
		t := *s.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// ServiceDraft is the caller-supplied part of a new service.
type ServiceDraft struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	ProviderID     string         `json:"provider_id"`
	ProviderWallet string         `json:"provider_wallet"`
	Chain          address.Chain  `json:"chain"`
	Endpoint       string         `json:"endpoint"`
	Capabilities   []string       `json:"capabilities"`
	Pricing        Pricing        `json:"pricing"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ServicePatch lists the fields an update may change. Nil fields are left
// alone. Identity, creation time and reputation are not patchable.
type ServicePatch struct {
	Name           *string         `json:"name,omitempty"`
	Description    *string         `json:"description,omitempty"`
	ProviderWallet *string         `json:"provider_wallet,omitempty"`
	Chain          *address.Chain  `json:"chain,omitempty"`
	Endpoint       *string         `json:"endpoint,omitempty"`
	Capabilities   *[]string       `json:"capabilities,omitempty"`
	Pricing        *Pricing        `json:"pricing,omitempty"`
	Metadata       *map[string]any `json:"metadata,omitempty"`
}

func (p ServicePatch) empty() bool {
	return p.Name == nil && p.Description == nil && p.ProviderWallet == nil && p.Chain == nil &&
		p.Endpoint == nil && p.Capabilities == nil && p.Pricing == nil && p.Metadata == nil
}

// TxStatus is the settlement state of a Transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// Transaction is one paid invocation of a service.
type Transaction struct {
	ID              string          `json:"id"`
	ServiceID       string          `json:"service_id"`
	BuyerID         string          `json:"buyer_id"`
	SellerID        string          `json:"seller_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          TxStatus        `json:"status"`
	RequestPayload  json.RawMessage `json:"request_payload"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty"`
	PaymentHash     *string         `json:"payment_hash,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TransactionDraft opens a pending transaction for a live service.
type TransactionDraft struct {
	ServiceID      string
	BuyerID        string
	Amount         decimal.Decimal
	Currency       string
	RequestPayload json.RawMessage
	PaymentHash    string
}

// Rating is a buyer's score for one completed transaction.
type Rating struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	ServiceID     string    `json:"service_id"`
	RaterID       string    `json:"rater_id"`
	Score         int       `json:"score"`
	Review        *string   `json:"review,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RatingDraft is the caller-supplied part of a Rating.
type RatingDraft struct {
	TransactionID string
	RaterID       string
	Score         int
	Review        string
}

// AuditAction names a mutating repository operation.
type AuditAction string

const (
	ActionCreate  AuditAction = "create"
	ActionUpdate  AuditAction = "update"
	ActionDelete  AuditAction = "delete"
	ActionRestore AuditAction = "restore"
)

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     AuditAction     `json:"action"`
	Changes    json.RawMessage `json:"changes"`
	Actor      string          `json:"actor"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Stats is a row count snapshot for operators.
type Stats struct {
	LiveServices    int64 `json:"live_services"`
	DeletedServices int64 `json:"deleted_services"`
	Pending         int64 `json:"transactions_pending"`
	Completed       int64 `json:"transactions_completed"`
	Failed          int64 `json:"transactions_failed"`
	Ratings         int64 `json:"ratings"`
	AuditEntries    int64 `json:"audit_entries"`
}
