package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voteverify/voteverify/internal/models"
)

func TestFormatE164(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5551234567", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
		{"+15551234567", "+15551234567"},
		{"+44 20 7946 0958", "+442079460958"},
		{"447911123456", "+447911123456"},
		{"+5551234567", "+5551234567"},
		{"", ""},
		{"abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatE164(tt.in, "1"))
		})
	}
}

func TestOTPMessage(t *testing.T) {
	assert.Equal(t,
		"Your VoteVerify verification code is: 004521. This code will expire in 10 minutes.",
		OTPMessage("004521", 10*time.Minute))
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	d := NewDispatcher(time.Second)
	_, err := d.Dispatch(context.Background(), models.MethodSMS, "5551234567", "123456")
	assert.ErrorIs(t, err, ErrUnknownMethod)
	assert.False(t, d.Supports(models.MethodSMS))
}

func TestDispatcher_WrapsChannelFailure(t *testing.T) {
	ch := newRecordingChannel()
	ch.err = &ConfigError{Message: "Twilio credentials are not configured"}

	d := NewDispatcher(time.Second)
	d.Register(models.MethodSMS, ch)

	_, err := d.Dispatch(context.Background(), models.MethodSMS, "5551234567", "123456")
	require.Error(t, err)

	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, models.MethodSMS, dispatchErr.Method)
	assert.Equal(t, "Twilio credentials are not configured", err.Error())

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDispatcher_AppliesTimeout(t *testing.T) {
	d := NewDispatcher(20 * time.Millisecond)
	d.Register(models.MethodTelegram, blockingChannel{})

	start := time.Now()
	_, err := d.Dispatch(context.Background(), models.MethodTelegram, "5551234567", "123456")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatcher_ReturnsMessageID(t *testing.T) {
	ch := newRecordingChannel()
	d := NewDispatcher(time.Second)
	d.Register(models.MethodSMS, ch)

	id, err := d.Dispatch(context.Background(), models.MethodSMS, "5551234567", "654321")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "654321", ch.lastCode("5551234567"))
}
