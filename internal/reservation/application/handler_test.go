package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"stockhold/internal/lock"
	"stockhold/internal/reservation/domain"
	"stockhold/internal/reservation/infrastructure"
)

type fixture struct {
	handler        *Handler
	reconciler     *Reconciler
	locks          *lock.MemoryManager
	products       *infrastructure.MemoryProductStore
	reservations   *infrastructure.MemoryReservationStore
	availabilities *infrastructure.MemoryAvailabilityStore
	now            time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")

	f := &fixture{
		locks:          lock.NewMemoryManager(),
		products:       infrastructure.NewMemoryProductStore(),
		reservations:   infrastructure.NewMemoryReservationStore(),
		availabilities: infrastructure.NewMemoryAvailabilityStore(),
		now:            time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	f.reconciler = NewReconciler(f.locks, f.products, f.reservations, f.availabilities, 30*time.Second, tracer)
	f.handler = NewHandler(f.locks, f.products, f.reservations, f.availabilities, f.reconciler, 30*time.Second, tracer)

	clock := func() time.Time { return f.now }
	f.handler.SetClock(clock)
	f.reconciler.SetClock(clock)
	return f
}

func (f *fixture) seedProduct(id string, stock, expireSeconds int64) {
	f.products.Put(domain.Product{ID: id, Stock: stock, ReservationsExpireAfterSecond: expireSeconds})
}

func (f *fixture) seedReservation(t *testing.T, r domain.ProductReservation) {
	t.Helper()
	r.ID = domain.ReservationID(r.ProductID, r.UserID)
	require.NoError(t, f.reservations.Save(context.Background(), &r))
}

func (f *fixture) seedAvailability(t *testing.T, a domain.ProductAvailability) {
	t.Helper()
	require.NoError(t, f.availabilities.Save(context.Background(), &a))
}

func (f *fixture) reservation(t *testing.T, productID, userID string) *domain.ProductReservation {
	t.Helper()
	r, err := f.reservations.Get(context.Background(), productID, userID)
	require.NoError(t, err)
	return r
}

func (f *fixture) availability(t *testing.T, productID string) *domain.ProductAvailability {
	t.Helper()
	a, err := f.availabilities.Get(context.Background(), productID)
	require.NoError(t, err)
	return a
}

func TestHandleGrantsNewReservation(t *testing.T) {
	f := newFixture(t)
	f.seedProduct("p1", 4, 3600)
	f.seedReservation(t, domain.ProductReservation{
		ProductID: "p1", UserID: "u1",
		ReservedAmount: 1, DesiredAmount: 1,
		Status:    domain.StatusOK,
		ExpiresAt: f.now.Add(time.Hour),
		UpdatedAt: f.now.Add(-time.Minute),
	})
	f.seedAvailability(t, domain.ProductAvailability{ProductID: "p1", Stock: 4, ReservedAmount: 1, UpdatedAt: f.now.Add(-time.Minute)})

	out, err := f.handler.Handle(context.Background(), &domain.ReservationRequest{
		ProductID: "p1", UserID: "u2", Quantity: 2, RequestedAt: f.now,
	})
	require.NoError(t, err)
	assert.True(t, out.Committed)

	r := f.reservation(t, "p1", "u2")
	assert.Equal(t, int64(2), r.ReservedAmount)
	assert.Equal(t, int64(2), r.DesiredAmount)
	assert.Equal(t, domain.StatusOK, r.Status)
	assert.Equal(t, f.now.Add(3600*time.Second), r.ExpiresAt)

	assert.Equal(t, int64(3), f.availability(t, "p1").ReservedAmount)
}

func TestHandleClampsToRemainingStock(t *testing.T) {
	f := newFixture(t)
	f.seedProduct("p1", 4, 3600)
	f.seedReservation(t, domain.ProductReservation{
		ProductID: "p1", UserID: "u1",
		ReservedAmount: 1, DesiredAmount: 1,
		Status:    domain.StatusOK,
		ExpiresAt: f.now.Add(time.Hour),
		UpdatedAt: f.now.Add(-time.Minute),
	})
	f.seedAvailability(t, domain.ProductAvailability{ProductID: "p1", Stock: 4, ReservedAmount: 1, UpdatedAt: f.now.Add(-time.Minute)})

	// u1 raises its own desire to 7: its existing hold of 1 must not count
	// against itself, so the grant is the full stock of 4.
	out, err := f.handler.Handle(context.Background(), &domain.ReservationRequest{
		ProductID: "p1", UserID: "u1", Quantity: 7, RequestedAt: f.now,
	})
	require.NoError(t, err)
	assert.True(t, out.Committed)

	r := f.reservation(t, "p1", "u1")
	assert.Equal(t, int64(4), r.ReservedAmount)
	assert.Equal(t, int64(7), r.DesiredAmount)
	assert.Equal(t, domain.StatusInsufficientStock, r.Status)

	assert.Equal(t, int64(4), f.availability(t, "p1").ReservedAmount)
}

func TestHandleRepeatedRequestIsStable(t *testing.T) {
	f := newFixture(t)
	f.seedProduct("p1", 10, 3600)

	req := &domain.ReservationRequest{ProductID: "p1", UserID: "u1", Quantity: 3, RequestedAt: f.now}
	_, err := f.handler.Handle(context.Background(), req)
	require.NoError(t, err)

	// Same quantity re-requested slightly later must leave the grant as is.
	f.now = f.now.Add(time.Second)
	req.RequestedAt = f.now
	_, err = f.handler.Handle(context.Background(), req)
	require.NoError(t, err)

	r := f.reservation(t, "p1", "u1")
	assert.Equal(t, int64(3), r.ReservedAmount)
	assert.Equal(t, int64(3), f.availability(t, "p1").ReservedAmount)
}

func TestHandleRejectsStaleRequest(t *testing.T) {
	f := newFixture(t)
	f.seedProduct("p1", 4, 3600)
	stored := domain.ProductReservation{
		ProductID: "p1", UserID: "u1",
		ReservedAmount: 2, DesiredAmount: 2,
		Status:    domain.StatusOK,
		ExpiresAt: f.now.Add(time.Hour),
		UpdatedAt: f.now,
	}
	f.seedReservation(t, stored)
	f.seedAvailability(t, domain.ProductAvailability{ProductID: "p1", Stock: 4, ReservedAmount: 2, UpdatedAt: f.now})

	out, err := f.handler.Handle(context.Background(), &domain.ReservationRequest{
		ProductID: "p1", UserID: "u1", Quantity: 1, RequestedAt: f.now.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequestTimestamp)
	assert.True(t, out.Committed, "stale requests must still be committed")

	r := f.reservation(t, "p1", "u1")
	assert.Equal(t, stored.ReservedAmount, r.ReservedAmount)
	assert.Equal(t, stored.Status, r.Status)
	assert.True(t, stored.UpdatedAt.Equal(r.UpdatedAt))
}

func TestHandleDropsWhenHandlerLockBusy(t *testing.T) {
	f := newFixture(t)
	f.seedProduct("p1", 4, 3600)

	// Another worker holds the handler lock for this (product, user) pair.
	require.NoError(t, f.locks.TryLock(context.Background(), handlerLockCollection,
		[]string{domain.ReservationID("p1", "u1")}, "other-worker", time.Minute))

	out, err := f.handler.Handle(context.Background(), &domain.ReservationRequest{
		ProductID: "p1", UserID: "u1", Quantity: 1, RequestedAt: f.now,
	})
	assert.ErrorIs(t, err, domain.ErrHandlerLockUnavailable)
	assert.True(t, out.Committed)

	_, err = f.reservations.Get(context.Background(), "p1", "u1")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestHandleProductNotFoundIsTerminal(t *testing.T) {
	f := newFixture(t)

	out, err := f.handler.Handle(context.Background(), &domain.ReservationRequest{
		ProductID: "missing", UserID: "u1", Quantity: 1, RequestedAt: f.now,
	})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.True(t, out.Committed)

	// All locks must be released again.
	assert.NoError(t, f.locks.TryLock(context.Background(), handlerLockCollection,
		[]string{domain.ReservationID("missing", "u1")}, "probe", time.Minute))
	assert.NoError(t, f.locks.TryLock(context.Background(), reservationLockCollection,
		[]string{"missing"}, "probe", time.Minute))
	assert.NoError(t, f.locks.TryLock(context.Background(), availabilityLockCollection,
		[]string{"missing"}, "probe", time.Minute))
}

func TestHandleRebuildsMissingAvailability(t *testing.T) {
	f := newFixture(t)
	f.seedProduct("p1", 4, 3600)
	// Pre-existing reservation but no availability aggregate: the handler
	// must rebuild it instead of assuming zero reserved.
	f.seedReservation(t, domain.ProductReservation{
		ProductID: "p1", UserID: "u1",
		ReservedAmount: 3, DesiredAmount: 3,
		Status:    domain.StatusOK,
		ExpiresAt: f.now.Add(time.Hour),
		UpdatedAt: f.now.Add(-time.Minute),
	})

	out, err := f.handler.Handle(context.Background(), &domain.ReservationRequest{
		ProductID: "p1", UserID: "u2", Quantity: 4, RequestedAt: f.now,
	})
	require.NoError(t, err)
	assert.True(t, out.Committed)

	r := f.reservation(t, "p1", "u2")
	assert.Equal(t, int64(1), r.ReservedAmount)
	assert.Equal(t, domain.StatusInsufficientStock, r.Status)
	assert.Equal(t, int64(4), f.availability(t, "p1").ReservedAmount)
}

func TestHandleReleasesLocksOnSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedProduct("p1", 4, 3600)

	out, err := f.handler.Handle(context.Background(), &domain.ReservationRequest{
		ProductID: "p1", UserID: "u1", Quantity: 1, RequestedAt: f.now,
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.Event{
		domain.EventLockAcquired,
		domain.EventLockAcquired,
		domain.EventLockAcquired,
		domain.EventReservationSaved,
		domain.EventAvailabilitySaved,
		domain.EventLockReleased,
		domain.EventLockReleased,
		domain.EventLockReleased,
		domain.EventRequestCommitted,
	}, out.Events)

	assert.NoError(t, f.locks.TryLock(context.Background(), reservationLockCollection,
		[]string{"p1"}, "probe", time.Minute))
	assert.NoError(t, f.locks.TryLock(context.Background(), availabilityLockCollection,
		[]string{"p1"}, "probe", time.Minute))
}
