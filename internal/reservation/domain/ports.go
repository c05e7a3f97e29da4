package domain

import "context"

// ReservationStore is the key-value boundary for ProductReservation
// records, keyed by (productID, userID).
type ReservationStore interface {
	// Get returns ErrReservationNotFound when the pair has no entry.
	Get(ctx context.Context, productID, userID string) (*ProductReservation, error)
	Save(ctx context.Context, reservation *ProductReservation) error
	Delete(ctx context.Context, productID, userID string) error
	// ListByProduct returns every stored reservation for the product, in no
	// particular order.
	ListByProduct(ctx context.Context, productID string) ([]*ProductReservation, error)
}

// AvailabilityStore is the key-value boundary for the per-product
// availability aggregate.
type AvailabilityStore interface {
	// Get returns ErrAvailabilityNotFound when the product has no entry.
	Get(ctx context.Context, productID string) (*ProductAvailability, error)
	Save(ctx context.Context, availability *ProductAvailability) error
}

// ProductStore is the relational boundary to the product catalog.
type ProductStore interface {
	// Find returns ErrProductNotFound when the id is unknown.
	Find(ctx context.Context, id string) (*Product, error)
	// Count returns the total number of products, for batch fan-out sizing.
	Count(ctx context.Context) (int64, error)
	// PageIDs returns product ids ordered by id, for one sync batch.
	PageIDs(ctx context.Context, offset, limit int) ([]string, error)
}
