package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/voteverify/voteverify/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("concurrent update conflict")
)

// Mutation tells a store what to do with a record after a MutateFunc inspected it.
type Mutation int

const (
	Keep Mutation = iota
	Update
	Remove
)

// MutateFunc receives the current record (nil when absent) and may modify it in place.
// It can be invoked more than once when a backend retries after a write conflict.
type MutateFunc func(rec *models.OTPRecord) Mutation

// OTPStore holds at most one record per phone number.
type OTPStore interface {
	Save(ctx context.Context, phone string, rec models.OTPRecord) error
	Get(ctx context.Context, phone string) (*models.OTPRecord, error)
	Delete(ctx context.Context, phone string) error
	// Mutate runs fn and applies its result as a single atomic read-modify-write.
	Mutate(ctx context.Context, phone string, fn MutateFunc) error
}

type MemoryOTPStore struct {
	mu      sync.Mutex
	records map[string]models.OTPRecord
}

func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{records: make(map[string]models.OTPRecord)}
}

func (s *MemoryOTPStore) Save(_ context.Context, phone string, rec models.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[phone] = rec
	return nil
}

func (s *MemoryOTPStore) Get(_ context.Context, phone string) (*models.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryOTPStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, phone)
	return nil
}

func (s *MemoryOTPStore) Mutate(_ context.Context, phone string, fn MutateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.OTPRecord
	if rec, ok := s.records[phone]; ok {
		current = &rec
	}

	switch fn(current) {
	case Update:
		if current != nil {
			s.records[phone] = *current
		}
	case Remove:
		delete(s.records, phone)
	}
	return nil
}

// conflictBackoff bounds optimistic-concurrency retries for the networked stores.
func conflictBackoff() retry.Backoff {
	return retry.WithMaxRetries(5, retry.NewExponential(10*time.Millisecond))
}
