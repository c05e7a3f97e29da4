// Package domain holds the entities, events and ports of the
// inventory-reservation core.
package domain

import "time"

// Status describes the outcome recorded on a reservation.
type Status string

const (
	StatusOK                Status = "OK"
	StatusInsufficientStock Status = "INSUFFICIENT_STOCK"
	StatusExpired           Status = "EXPIRED"
)

// Product is the authoritative stock record, owned by the product catalog
// and read-only to this core.
type Product struct {
	ID                            string
	Stock                         int64
	ReservationsExpireAfterSecond int64
}

// ProductReservation is one user's hold on a product's stock. Unique per
// (ProductID, UserID); upserted, never duplicated. ReservedAmount is always
// at most DesiredAmount and is zero whenever Status is EXPIRED.
type ProductReservation struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"productId"`
	UserID         string    `json:"userId"`
	ReservedAmount int64     `json:"reservedAmount"`
	DesiredAmount  int64     `json:"desiredAmount"`
	Status         Status    `json:"status"`
	ExpiresAt      time.Time `json:"expiresAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ReservationID builds the canonical id for a (product, user) pair. It also
// serves as the handler-lock record id.
func ReservationID(productID, userID string) string {
	return productID + ":" + userID
}

// NewReservation returns the zero reservation used when a (product, user)
// pair has no stored entry yet.
func NewReservation(productID, userID string) *ProductReservation {
	return &ProductReservation{
		ID:        ReservationID(productID, userID),
		ProductID: productID,
		UserID:    userID,
		Status:    StatusOK,
	}
}

// Active reports whether the reservation currently counts against stock.
func (r *ProductReservation) Active() bool {
	return r.Status == StatusOK || r.Status == StatusInsufficientStock
}

// ProductAvailability caches the aggregate reservation state of one
// product. It is always re-derivable from Product plus the product's
// reservations and is overwritten on every grant or reconciliation pass.
type ProductAvailability struct {
	ProductID      string    `json:"productId"`
	Stock          int64     `json:"stock"`
	ReservedAmount int64     `json:"reservedAmount"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
