package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/models"
)

// RedisOTPStore keeps each record as a JSON blob under otp:<phone>.
// Keys outlive ExpiresAt by retention so an expired code is still reported as expired.
type RedisOTPStore struct {
	client    *redis.Client
	retention time.Duration
	logger    *logrus.Logger
}

func NewRedisOTPStore(client *redis.Client, retention time.Duration, logger *logrus.Logger) *RedisOTPStore {
	return &RedisOTPStore{
		client:    client,
		retention: retention,
		logger:    logger,
	}
}

func otpKey(phone string) string {
	return fmt.Sprintf("otp:%s", phone)
}

func (s *RedisOTPStore) ttl(rec *models.OTPRecord) time.Duration {
	ttl := time.Until(rec.ExpiresAt) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *RedisOTPStore) Save(ctx context.Context, phone string, rec models.OTPRecord) error {
	dataJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	if err := s.client.Set(ctx, otpKey(phone), dataJSON, s.ttl(&rec)).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (s *RedisOTPStore) Get(ctx context.Context, phone string) (*models.OTPRecord, error) {
	dataJSON, err := s.client.Get(ctx, otpKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	var rec models.OTPRecord
	if err := json.Unmarshal(dataJSON, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	return &rec, nil
}

func (s *RedisOTPStore) Delete(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, otpKey(phone)).Err(); err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}

// Mutate wraps fn in WATCH/MULTI/EXEC and retries when another client touched the key first.
func (s *RedisOTPStore) Mutate(ctx context.Context, phone string, fn MutateFunc) error {
	key := otpKey(phone)

	txf := func(tx *redis.Tx) error {
		var current *models.OTPRecord

		dataJSON, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to get OTP: %w", err)
		default:
			current = &models.OTPRecord{}
			if err := json.Unmarshal(dataJSON, current); err != nil {
				return fmt.Errorf("failed to unmarshal OTP data: %w", err)
			}
		}

		mutation := fn(current)
		if mutation == Keep || current == nil && mutation == Update {
			return nil
		}

		var updatedJSON []byte
		if mutation == Update {
			if updatedJSON, err = json.Marshal(current); err != nil {
				return fmt.Errorf("failed to marshal OTP data: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if mutation == Update {
				pipe.Set(ctx, key, updatedJSON, redis.KeepTTL)
			} else {
				pipe.Del(ctx, key)
			}
			return nil
		})
		return err
	}

	err := retry.Do(ctx, conflictBackoff(), func(ctx context.Context) error {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		s.logger.WithField("phone", phone).Warn("Gave up updating OTP after repeated conflicts")
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
