package domain

import "time"

// ReservationRequest is the inbound event asking to reserve quantity units
// of a product for a user. RequestedAt orders requests for the same
// (product, user) pair under out-of-order delivery.
type ReservationRequest struct {
	ProductID   string    `json:"productId"`
	UserID      string    `json:"userId"`
	Quantity    int64     `json:"quantity"`
	RequestedAt time.Time `json:"requestedAt"`
}

// SyncRequest triggers reconciliation of one page of products. The request
// is void once ExpiresAt has passed, so a consumer that fell behind does
// not amplify its backlog by replaying obsolete pages.
type SyncRequest struct {
	BatchSize   int       `json:"batchSize"`
	BatchNumber int       `json:"batchNumber"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the request became void before now.
func (r SyncRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Event names the observable steps of a handler execution. The message
// adapter and the tests use them; the core never acts on them itself.
type Event string

const (
	EventLockAcquired      Event = "LOCK_ACQUIRED"
	EventLockReleased      Event = "LOCK_RELEASED"
	EventReservationSaved  Event = "RESERVATION_SAVED"
	EventAvailabilitySaved Event = "PRODUCT_AVAILABILITY_SAVED"
	EventRequestCommitted  Event = "REQUEST_COMMITTED"
)

// Outcome tells the message adapter what to do with the inbound message.
// Committed means acknowledge it even if the handler also returned an
// error: redelivery cannot change a terminal outcome. Not committed means
// redeliver, with a delay for batch work.
type Outcome struct {
	Committed bool
	Events    []Event
}

// Record appends an event to the outcome.
func (o *Outcome) Record(e Event) {
	o.Events = append(o.Events, e)
}

// Commit marks the outcome committed and records the commit event.
func (o *Outcome) Commit() {
	o.Committed = true
	o.Record(EventRequestCommitted)
}
