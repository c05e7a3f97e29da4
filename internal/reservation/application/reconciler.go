package application

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockhold/internal/lock"
	"stockhold/internal/metrics"
	"stockhold/internal/reservation/domain"
)

// Reconciler replays all reservations of a product in temporal order to
// repair drift the per-request path could not resolve: expirations, races
// resolved unfairly in real time, and abandoned holds.
type Reconciler struct {
	locks          lock.Manager
	products       domain.ProductStore
	reservations   domain.ReservationStore
	availabilities domain.AvailabilityStore
	lockTTL        time.Duration
	backoff        lock.Backoff
	tracer         trace.Tracer
	now            func() time.Time
}

func NewReconciler(locks lock.Manager, products domain.ProductStore, reservations domain.ReservationStore, availabilities domain.AvailabilityStore, lockTTL time.Duration, tracer trace.Tracer) *Reconciler {
	return &Reconciler{
		locks:          locks,
		products:       products,
		reservations:   reservations,
		availabilities: availabilities,
		lockTTL:        lockTTL,
		backoff:        lock.DefaultBackoff,
		tracer:         tracer,
		now:            time.Now,
	}
}

// SetClock overrides the time source for tests.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// HandleSyncRequest reconciles one page of products. An expired request is
// skipped and committed; any failure after lock acquisition releases the
// locks and leaves the message uncommitted for redelivery with a delay.
func (r *Reconciler) HandleSyncRequest(ctx context.Context, req *domain.SyncRequest) (domain.Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "reservation.HandleSyncRequest", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.size", req.BatchSize),
		attribute.Int("batch.number", req.BatchNumber),
	)

	var out domain.Outcome

	if req.Expired(r.now()) {
		log.Info().Int("batch", req.BatchNumber).Msg("sync request expired, skipping")
		out.Commit()
		return out, domain.ErrSyncRequestExpired
	}

	productIDs, err := r.products.PageIDs(ctx, req.BatchNumber*req.BatchSize, req.BatchSize)
	if err != nil {
		return out, err
	}
	if len(productIDs) == 0 {
		out.Commit()
		return out, nil
	}

	token := uuid.NewString()
	var held []heldLock
	for _, collection := range []string{reservationLockCollection, availabilityLockCollection} {
		err := lock.Acquire(ctx, r.locks, collection, productIDs, token, r.lockTTL, r.backoff, func() {
			metrics.LockRetries.Inc()
		})
		if err != nil {
			r.unwind(ctx, &out, token, held)
			return out, err
		}
		held = append(held, heldLock{collection, productIDs})
		out.Record(domain.EventLockAcquired)
	}

	for _, productID := range productIDs {
		if _, err := r.SyncProductLocked(ctx, productID); err != nil {
			// A product deleted from the catalog since paging must not
			// poison the rest of the page.
			if errors.Is(err, domain.ErrProductNotFound) {
				log.Warn().Str("product", productID).Msg("product vanished from catalog, skipping sync")
				continue
			}
			r.unwind(ctx, &out, token, held)
			return out, err
		}
		out.Record(domain.EventAvailabilitySaved)
	}

	r.unwind(ctx, &out, token, held)
	metrics.ReconcileRuns.Inc()
	out.Commit()
	return out, nil
}

// SyncProductLocked deterministically recomputes every reservation and the
// availability aggregate for one product. The caller must already hold the
// reservation and availability locks for the product.
//
// Replay policy: abandoned holds (desired 0) are deleted first; the rest
// replay oldest-update-first with a running demand total. Expired
// reservations release their grant. The running total accumulates each
// reservation's desired amount rather than its clamped grant, so a later
// pass can restore an earlier partially-filled reservation once an even
// earlier one expires.
func (r *Reconciler) SyncProductLocked(ctx context.Context, productID string) (*domain.ProductAvailability, error) {
	product, err := r.products.Find(ctx, productID)
	if err != nil {
		return nil, err
	}

	all, err := r.reservations.ListByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	active := make([]*domain.ProductReservation, 0, len(all))
	for _, reservation := range all {
		if reservation.DesiredAmount == 0 {
			if err := r.reservations.Delete(ctx, reservation.ProductID, reservation.UserID); err != nil {
				return nil, err
			}
			metrics.ReconcilePurged.Inc()
			continue
		}
		active = append(active, reservation)
	}

	sort.Slice(active, func(i, j int) bool {
		if !active[i].UpdatedAt.Equal(active[j].UpdatedAt) {
			return active[i].UpdatedAt.Before(active[j].UpdatedAt)
		}
		return active[i].UserID < active[j].UserID // deterministic tiebreak
	})

	now := r.now()
	var runningDemand, reservedSum int64
	for _, reservation := range active {
		before := *reservation

		if !reservation.ExpiresAt.After(now) {
			reservation.ReservedAmount = 0
			reservation.Status = domain.StatusExpired
		} else {
			remaining := product.Stock - runningDemand
			if remaining < 0 {
				remaining = 0
			}
			grant := reservation.DesiredAmount
			if remaining < grant {
				grant = remaining
			}
			reservation.ReservedAmount = grant
			reservation.Status = domain.StatusOK
			if grant != reservation.DesiredAmount {
				reservation.Status = domain.StatusInsufficientStock
			}
			runningDemand += reservation.DesiredAmount
			reservedSum += grant
		}

		if before == *reservation {
			continue
		}
		if reservation.Status == domain.StatusExpired && before.Status != domain.StatusExpired {
			metrics.ReconcileExpired.Inc()
		}
		// UpdatedAt is deliberately left alone: it encodes request order and
		// advancing it here would reject legitimate in-flight requests as
		// stale.
		if err := r.reservations.Save(ctx, reservation); err != nil {
			return nil, err
		}
	}

	availability := &domain.ProductAvailability{
		ProductID:      productID,
		Stock:          product.Stock,
		ReservedAmount: reservedSum,
		UpdatedAt:      now,
	}
	if err := r.availabilities.Save(ctx, availability); err != nil {
		return nil, err
	}
	return availability, nil
}

func (r *Reconciler) unwind(ctx context.Context, out *domain.Outcome, token string, held []heldLock) {
	for i := len(held) - 1; i >= 0; i-- {
		err := r.locks.Unlock(ctx, held[i].collection, held[i].recordIDs, token)
		if err != nil {
			log.Warn().Err(err).Str("collection", held[i].collection).Msg("lock release failed")
			continue
		}
		out.Record(domain.EventLockReleased)
	}
}
