package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind selects the fee rule, the confirmation requirement and the TTL of a request.
type Kind string

const (
	KindWithdrawal   Kind = "WITHDRAWAL"
	KindFloat        Kind = "FLOAT"
	KindCancellation Kind = "CANCELLATION"
)

func (k Kind) Valid() bool {
	switch k {
	case KindWithdrawal, KindFloat, KindCancellation:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s != StatusPending
}

type Role string

const (
	RoleClient Role = "client"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

// AccountRef is the opaque reference of a party as issued by the identity service.
type AccountRef string

// Account is what the identity directory resolves a handle to.
type Account struct {
	Ref       AccountRef `json:"ref"`
	Role      Role       `json:"role"`
	Phone     string     `json:"phone,omitempty"`
	PublicID  string     `json:"public_id,omitempty"`
	Active    bool       `json:"active"`
	Suspended bool       `json:"suspended"`
	CreatedAt time.Time  `json:"created_at"`
}

// Eligible reports whether the account may take part in a money movement.
func (a Account) Eligible() bool {
	return a.Active && !a.Suspended
}

// FeeSplit holds the fee shares as amounts; PlatformShare+CounterpartyShare == fee.
type FeeSplit struct {
	PlatformBps       int64 `json:"platform_bps"`
	PlatformShare     int64 `json:"platform_share"`
	CounterpartyShare int64 `json:"counterparty_share"`
}

// Request is the record behind every withdrawal, float and cancellation flow.
// Requests are never deleted.
type Request struct {
	ID                uuid.UUID
	Reference         string
	Kind              Kind
	SchemaVersion     int
	Requester         AccountRef
	RequesterRole     Role
	Counterparty      AccountRef
	CounterpartyRole  Role
	Amount            int64
	Fee               int64
	FeeSplit          FeeSplit
	Status            Status
	CodeHash          []byte
	SealedCode        string
	CodeConsumedAt    *time.Time
	OriginalRequestID *uuid.UUID
	Message           string
	ResponseNote      string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	RespondedAt       *time.Time
}

// RequiresCode reports whether approval needs a confirmation code.
func (r *Request) RequiresCode() bool {
	return len(r.CodeHash) > 0
}

// Transition carries the fields written together with a status change.
type Transition struct {
	At           time.Time
	ResponseNote string
	ConsumeCode  bool
}

// View is the read model exposed to callers. ConfirmationCode is only set for
// the requester while the request is PENDING.
type View struct {
	Reference         string     `json:"reference"`
	Kind              Kind       `json:"kind"`
	Amount            int64      `json:"amount"`
	Fee               int64      `json:"fee"`
	Status            Status     `json:"status"`
	Message           string     `json:"message,omitempty"`
	ResponseNote      string     `json:"response_note,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	RespondedAt       *time.Time `json:"responded_at,omitempty"`
	ConfirmationCode  string     `json:"confirmation_code,omitempty"`
	OriginalReference string     `json:"original_reference,omitempty"`
}

func (r *Request) View() View {
	return View{
		Reference:    r.Reference,
		Kind:         r.Kind,
		Amount:       r.Amount,
		Fee:          r.Fee,
		Status:       r.Status,
		Message:      r.Message,
		ResponseNote: r.ResponseNote,
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
		RespondedAt:  r.RespondedAt,
	}
}
