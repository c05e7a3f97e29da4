// Package application contains the reservation request handler and the
// reconciliation worker. Both operate on the domain ports and communicate
// with the message adapter exclusively through domain.Outcome.
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockhold/internal/lock"
	"stockhold/internal/metrics"
	"stockhold/internal/reservation/domain"
)

// Lock collections. Acquisition order is handler, reservation, availability;
// release is the exact reverse. The order must never vary or two handlers
// can deadlock against each other.
const (
	handlerLockCollection      = "reservation-handler"
	reservationLockCollection  = "product-reservation"
	availabilityLockCollection = "product-availability"
)

type heldLock struct {
	collection string
	recordIDs  []string
}

// Handler processes one reservation request at a time per (product, user)
// pair. Correctness holds across process instances sharing the same lock
// store; no in-process mutual exclusion is assumed.
type Handler struct {
	locks          lock.Manager
	products       domain.ProductStore
	reservations   domain.ReservationStore
	availabilities domain.AvailabilityStore
	reconciler     *Reconciler
	lockTTL        time.Duration
	backoff        lock.Backoff
	tracer         trace.Tracer
	now            func() time.Time
}

func NewHandler(locks lock.Manager, products domain.ProductStore, reservations domain.ReservationStore, availabilities domain.AvailabilityStore, reconciler *Reconciler, lockTTL time.Duration, tracer trace.Tracer) *Handler {
	return &Handler{
		locks:          locks,
		products:       products,
		reservations:   reservations,
		availabilities: availabilities,
		reconciler:     reconciler,
		lockTTL:        lockTTL,
		backoff:        lock.DefaultBackoff,
		tracer:         tracer,
		now:            time.Now,
	}
}

// SetClock overrides the time source for tests.
func (h *Handler) SetClock(now func() time.Time) { h.now = now }

// Handle runs the locked grant state machine for one request. The returned
// Outcome tells the caller whether to commit the inbound message; a
// committed outcome with a non-nil error is a terminal failure that must
// not be redelivered.
func (h *Handler) Handle(ctx context.Context, req *domain.ReservationRequest) (domain.Outcome, error) {
	ctx, span := h.tracer.Start(ctx, "reservation.Handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.String("user.id", req.UserID),
		attribute.Int64("request.quantity", req.Quantity),
	)

	started := h.now()
	defer func() { metrics.HandlerDuration.Observe(h.now().Sub(started).Seconds()) }()

	var out domain.Outcome

	// Cheap stale check before touching any lock. A second check happens
	// under lock; this one only short-circuits the common redelivery case.
	existing, err := h.loadReservation(ctx, req.ProductID, req.UserID)
	if err != nil {
		return out, err
	}
	if existing.UpdatedAt.After(req.RequestedAt) {
		return h.terminal(&out, span, domain.ErrInvalidRequestTimestamp, req)
	}

	token := uuid.NewString()
	handlerKey := domain.ReservationID(req.ProductID, req.UserID)
	var held []heldLock

	// Handler lock: zero-wait. A busy lock means an equivalent request is
	// already in flight somewhere; redelivering would only duplicate work.
	if err := h.locks.TryLock(ctx, handlerLockCollection, []string{handlerKey}, token, h.lockTTL); err != nil {
		if errors.Is(err, lock.ErrLocksUnavailable) {
			metrics.HandlerLockBusy.Inc()
			return h.terminal(&out, span, domain.ErrHandlerLockUnavailable, req)
		}
		return out, err
	}
	held = append(held, heldLock{handlerLockCollection, []string{handlerKey}})
	out.Record(domain.EventLockAcquired)

	// Resource locks: blocking with bounded backoff, fixed order.
	for _, collection := range []string{reservationLockCollection, availabilityLockCollection} {
		err := lock.Acquire(ctx, h.locks, collection, []string{req.ProductID}, token, h.lockTTL, h.backoff, func() {
			metrics.LockRetries.Inc()
		})
		if err != nil {
			h.unwind(ctx, &out, token, held)
			return out, err
		}
		held = append(held, heldLock{collection, []string{req.ProductID}})
		out.Record(domain.EventLockAcquired)
	}

	out, err = h.handleLocked(ctx, span, out, req)
	h.unwind(ctx, &out, token, held)
	if err != nil {
		if domain.Terminal(err) {
			return h.terminal(&out, span, err, req)
		}
		return out, err
	}

	out.Commit()
	return out, nil
}

// handleLocked executes steps 4-6 of the grant state machine with all three
// locks held. The caller releases the locks regardless of the result.
func (h *Handler) handleLocked(ctx context.Context, span trace.Span, out domain.Outcome, req *domain.ReservationRequest) (domain.Outcome, error) {
	product, err := h.products.Find(ctx, req.ProductID)
	if err != nil {
		return out, err
	}

	// Re-load and re-check staleness: a second writer may have updated the
	// reservation between the unlocked pre-check and lock acquisition.
	reservation, err := h.loadReservation(ctx, req.ProductID, req.UserID)
	if err != nil {
		return out, err
	}
	if reservation.UpdatedAt.After(req.RequestedAt) {
		return out, domain.ErrInvalidRequestTimestamp
	}

	availability, err := h.availabilities.Get(ctx, req.ProductID)
	if errors.Is(err, domain.ErrAvailabilityNotFound) {
		// First access for this product: rebuild the aggregate from a full
		// replay rather than seeding it at zero, which would oversell when
		// reservations already exist.
		availability, err = h.reconciler.SyncProductLocked(ctx, req.ProductID)
		if err != nil {
			return out, err
		}
		// The replay may have rewritten this user's reservation.
		reservation, err = h.loadReservation(ctx, req.ProductID, req.UserID)
	}
	if err != nil {
		return out, err
	}

	now := h.now()
	reservedExcludingSelf := availability.ReservedAmount - reservation.ReservedAmount
	grant := req.Quantity
	if capacity := product.Stock - reservedExcludingSelf; capacity < grant {
		grant = capacity
	}
	if grant < 0 {
		grant = 0
	}

	reservation.ReservedAmount = grant
	reservation.DesiredAmount = req.Quantity
	reservation.Status = domain.StatusOK
	if grant != req.Quantity {
		reservation.Status = domain.StatusInsufficientStock
	}
	reservation.ExpiresAt = now.Add(time.Duration(product.ReservationsExpireAfterSecond) * time.Second)
	reservation.UpdatedAt = now

	availability.ReservedAmount = reservedExcludingSelf + grant
	availability.Stock = product.Stock
	availability.UpdatedAt = now

	if err := h.reservations.Save(ctx, reservation); err != nil {
		return out, err
	}
	out.Record(domain.EventReservationSaved)

	if err := h.availabilities.Save(ctx, availability); err != nil {
		return out, err
	}
	out.Record(domain.EventAvailabilitySaved)

	if reservation.Status == domain.StatusOK {
		metrics.ReservationsGranted.Inc()
	} else {
		metrics.ReservationsClamped.Inc()
	}
	span.SetAttributes(
		attribute.Int64("reservation.granted", grant),
		attribute.String("reservation.status", string(reservation.Status)),
	)
	log.Debug().
		Str("product", req.ProductID).
		Str("user", req.UserID).
		Int64("desired", req.Quantity).
		Int64("granted", grant).
		Str("status", string(reservation.Status)).
		Msg("reservation updated")

	return out, nil
}

func (h *Handler) loadReservation(ctx context.Context, productID, userID string) (*domain.ProductReservation, error) {
	reservation, err := h.reservations.Get(ctx, productID, userID)
	if errors.Is(err, domain.ErrReservationNotFound) {
		return domain.NewReservation(productID, userID), nil
	}
	return reservation, err
}

// unwind releases held locks in reverse acquisition order. A token mismatch
// on release is logged and not retried: the TTL already handed the record
// to a new holder and retrying could release that holder's lock.
func (h *Handler) unwind(ctx context.Context, out *domain.Outcome, token string, held []heldLock) {
	for i := len(held) - 1; i >= 0; i-- {
		err := h.locks.Unlock(ctx, held[i].collection, held[i].recordIDs, token)
		if err != nil {
			log.Warn().Err(err).Str("collection", held[i].collection).Msg("lock release failed")
			continue
		}
		out.Record(domain.EventLockReleased)
	}
}

// terminal commits the message for a permanently obsolete request and
// surfaces the taxonomy error to the caller for logging.
func (h *Handler) terminal(out *domain.Outcome, span trace.Span, err error, req *domain.ReservationRequest) (domain.Outcome, error) {
	if errors.Is(err, domain.ErrInvalidRequestTimestamp) {
		metrics.StaleRequestsDropped.Inc()
	}
	span.SetStatus(codes.Error, err.Error())
	log.Info().Err(err).
		Str("product", req.ProductID).
		Str("user", req.UserID).
		Msg("request dropped")
	out.Commit()
	return *out, err
}
