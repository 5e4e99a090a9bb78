package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voteverify/voteverify/internal/models"
)

func newRecord(phone string) models.OTPRecord {
	now := time.Now()
	return models.OTPRecord{
		CodeHash:  "hash",
		Phone:     phone,
		Method:    models.MethodSMS,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

// exerciseStore runs the behaviour every OTPStore backend must share.
func exerciseStore(t *testing.T, store OTPStore) {
	t.Helper()
	ctx := context.Background()
	phone := "5551234567"

	_, err := store.Get(ctx, phone)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, phone, newRecord(phone)))
	rec, err := store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "hash", rec.CodeHash)
	assert.Equal(t, 0, rec.Attempts)

	err = store.Mutate(ctx, phone, func(rec *models.OTPRecord) Mutation {
		require.NotNil(t, rec)
		rec.Attempts++
		return Update
	})
	require.NoError(t, err)
	rec, err = store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)

	err = store.Mutate(ctx, phone, func(rec *models.OTPRecord) Mutation {
		rec.Attempts = 99
		return Keep
	})
	require.NoError(t, err)
	rec, err = store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)

	// overwrite resets the record
	fresh := newRecord(phone)
	fresh.CodeHash = "other"
	require.NoError(t, store.Save(ctx, phone, fresh))
	rec, err = store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "other", rec.CodeHash)
	assert.Equal(t, 0, rec.Attempts)

	err = store.Mutate(ctx, phone, func(rec *models.OTPRecord) Mutation { return Remove })
	require.NoError(t, err)
	_, err = store.Get(ctx, phone)
	require.ErrorIs(t, err, ErrNotFound)

	var seen *models.OTPRecord
	err = store.Mutate(ctx, phone, func(rec *models.OTPRecord) Mutation {
		seen = rec
		return Update
	})
	require.NoError(t, err)
	assert.Nil(t, seen)
	_, err = store.Get(ctx, phone)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, phone, newRecord(phone)))
	require.NoError(t, store.Delete(ctx, phone))
	_, err = store.Get(ctx, phone)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryOTPStore(t *testing.T) {
	exerciseStore(t, NewMemoryOTPStore())
}

func TestMemoryOTPStore_ConcurrentMutateIsSerialized(t *testing.T) {
	store := NewMemoryOTPStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "5551234567", newRecord("5551234567")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Mutate(ctx, "5551234567", func(rec *models.OTPRecord) Mutation {
				rec.Attempts++
				return Update
			})
		}()
	}
	wg.Wait()

	rec, err := store.Get(ctx, "5551234567")
	require.NoError(t, err)
	assert.Equal(t, 50, rec.Attempts)
}
