package domain

import "time"

type EventType string

const (
	EventRequestCreated   EventType = "RequestCreated"
	EventRequestApproved  EventType = "RequestApproved"
	EventRequestRejected  EventType = "RequestRejected"
	EventRequestCancelled EventType = "RequestCancelled"
	EventRequestExpired   EventType = "RequestExpired"
)

// Event is emitted for the out-of-band notification channel. Code is only
// present on RequestCreated for kinds that require a confirmation code.
type Event struct {
	Type         EventType  `json:"type"`
	Reference    string     `json:"reference"`
	Kind         Kind       `json:"kind"`
	Requester    AccountRef `json:"requester"`
	Counterparty AccountRef `json:"counterparty"`
	Amount       int64      `json:"amount"`
	Code         string     `json:"code,omitempty"`
	Note         string     `json:"note,omitempty"`
	At           time.Time  `json:"at"`
}

func NewEvent(t EventType, r *Request, at time.Time) Event {
	return Event{
		Type:         t,
		Reference:    r.Reference,
		Kind:         r.Kind,
		Requester:    r.Requester,
		Counterparty: r.Counterparty,
		Amount:       r.Amount,
		Note:         r.ResponseNote,
		At:           at,
	}
}
