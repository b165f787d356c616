package models

import "github.com/punchamoorthee/agentcash/internal/domain"

// CreateRequest is the versioned create payload. Unknown fields are rejected.
type CreateRequest struct {
	SchemaVersion     int         `json:"schema_version"`
	Kind              domain.Kind `json:"kind"`
	Counterparty      string      `json:"counterparty,omitempty"`
	Amount            int64       `json:"amount,omitempty"`
	Message           string      `json:"message,omitempty"`
	OriginalReference string      `json:"original_reference,omitempty"`
}

type ApproveRequest struct {
	Code string `json:"code"`
}

type RejectRequest struct {
	Note string `json:"note"`
}

// CreatedResponse carries the confirmation code the requester hands over.
type CreatedResponse struct {
	Request          domain.View `json:"request"`
	ConfirmationCode string      `json:"confirmation_code,omitempty"`
}

type ListResponse struct {
	Requests []domain.View `json:"requests"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
