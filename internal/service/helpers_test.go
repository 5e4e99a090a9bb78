package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/config"
	"golang.org/x/crypto/bcrypt"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testOTPConfig() *config.OTPConfig {
	return &config.OTPConfig{
		Length:      6,
		Expiry:      10 * time.Minute,
		MaxAttempts: 3,
		HashCost:    bcrypt.MinCost,
		DemoCode:    "123456",
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingChannel remembers the last code it was asked to deliver.
type recordingChannel struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
	calls int
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{codes: make(map[string]string)}
}

func (c *recordingChannel) Deliver(ctx context.Context, phone, code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	c.codes[phone] = code
	return "msg-1", nil
}

func (c *recordingChannel) lastCode(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[phone]
}

type blockingChannel struct{}

func (blockingChannel) Deliver(ctx context.Context, phone, code string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
