package domain

import "github.com/pkg/errors"

// Terminal failures: the message is permanently obsolete and must be
// committed, because redelivery cannot change the outcome.
var (
	// ErrInvalidRequestTimestamp marks a request older than the stored
	// reservation's last update (out-of-order delivery).
	ErrInvalidRequestTimestamp = errors.New("request timestamp precedes last reservation update")

	// ErrHandlerLockUnavailable means another worker already holds the
	// per-(product,user) handler lock for an equivalent request.
	ErrHandlerLockUnavailable = errors.New("request handler lock unavailable")

	// ErrProductNotFound means the product is absent from the catalog.
	ErrProductNotFound = errors.New("product not found")

	// ErrSyncRequestExpired marks a batch-sync request that became void
	// before it was processed.
	ErrSyncRequestExpired = errors.New("sync request expired")
)

// ErrReservationNotFound is a store-level signal, not part of the terminal
// taxonomy: a missing reservation defaults to the zero reservation.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrAvailabilityNotFound means the cached aggregate is absent and must be
// rebuilt from the product's reservations.
var ErrAvailabilityNotFound = errors.New("availability not found")

// Terminal reports whether err belongs to the always-commit class.
func Terminal(err error) bool {
	return errors.Is(err, ErrInvalidRequestTimestamp) ||
		errors.Is(err, ErrHandlerLockUnavailable) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrSyncRequestExpired)
}
