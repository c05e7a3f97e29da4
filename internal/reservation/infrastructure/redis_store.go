package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"stockhold/internal/pkg/redis"
	"stockhold/internal/reservation/domain"
)

// Redis key layout:
//
//	reservation:{productId}:{userId}   JSON ProductReservation
//	reservation-index:{productId}      set of userIds with a stored reservation
//	availability:{productId}           JSON ProductAvailability
//
// The per-product index set lets the reconciler list a product's
// reservations without SCAN. Index maintenance is not atomic with the value
// write, which is acceptable: every reader runs under the product's
// reservation lock.

type RedisReservationStore struct {
	rdb *goredis.Client
}

func NewRedisReservationStore(client *redis.Client) *RedisReservationStore {
	return &RedisReservationStore{rdb: client.GetClient()}
}

func reservationKey(productID, userID string) string {
	return "reservation:" + productID + ":" + userID
}

func reservationIndexKey(productID string) string {
	return "reservation-index:" + productID
}

func (s *RedisReservationStore) Get(ctx context.Context, productID, userID string) (*domain.ProductReservation, error) {
	raw, err := s.rdb.Get(ctx, reservationKey(productID, userID)).Bytes()
	if err == goredis.Nil {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get reservation")
	}
	var reservation domain.ProductReservation
	if err := json.Unmarshal(raw, &reservation); err != nil {
		return nil, errors.Wrap(err, "decode reservation")
	}
	return &reservation, nil
}

func (s *RedisReservationStore) Save(ctx context.Context, reservation *domain.ProductReservation) error {
	raw, err := json.Marshal(reservation)
	if err != nil {
		return errors.Wrap(err, "encode reservation")
	}
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, reservationKey(reservation.ProductID, reservation.UserID), raw, 0)
	pipe.SAdd(ctx, reservationIndexKey(reservation.ProductID), reservation.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "save reservation")
	}
	return nil
}

func (s *RedisReservationStore) Delete(ctx context.Context, productID, userID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, reservationKey(productID, userID))
	pipe.SRem(ctx, reservationIndexKey(productID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "delete reservation")
	}
	return nil
}

func (s *RedisReservationStore) ListByProduct(ctx context.Context, productID string) ([]*domain.ProductReservation, error) {
	userIDs, err := s.rdb.SMembers(ctx, reservationIndexKey(productID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list reservation index")
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = reservationKey(productID, userID)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "multi-get reservations")
	}

	reservations := make([]*domain.ProductReservation, 0, len(values))
	for i, value := range values {
		if value == nil {
			// Dangling index entry from an interrupted delete; repair it.
			s.rdb.SRem(ctx, reservationIndexKey(productID), userIDs[i])
			continue
		}
		raw, ok := value.(string)
		if !ok {
			return nil, errors.Errorf("unexpected reservation value type %T", value)
		}
		var reservation domain.ProductReservation
		if err := json.Unmarshal([]byte(raw), &reservation); err != nil {
			return nil, errors.Wrap(err, "decode reservation")
		}
		reservations = append(reservations, &reservation)
	}
	return reservations, nil
}

type RedisAvailabilityStore struct {
	rdb *goredis.Client
}

func NewRedisAvailabilityStore(client *redis.Client) *RedisAvailabilityStore {
	return &RedisAvailabilityStore{rdb: client.GetClient()}
}

func availabilityKey(productID string) string {
	return "availability:" + productID
}

func (s *RedisAvailabilityStore) Get(ctx context.Context, productID string) (*domain.ProductAvailability, error) {
	raw, err := s.rdb.Get(ctx, availabilityKey(productID)).Bytes()
	if err == goredis.Nil {
		return nil, domain.ErrAvailabilityNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get availability")
	}
	var availability domain.ProductAvailability
	if err := json.Unmarshal(raw, &availability); err != nil {
		return nil, errors.Wrap(err, "decode availability")
	}
	return &availability, nil
}

func (s *RedisAvailabilityStore) Save(ctx context.Context, availability *domain.ProductAvailability) error {
	raw, err := json.Marshal(availability)
	if err != nil {
		return errors.Wrap(err, "encode availability")
	}
	if err := s.rdb.Set(ctx, availabilityKey(availability.ProductID), raw, 0).Err(); err != nil {
		return errors.Wrap(err, "save availability")
	}
	return nil
}
