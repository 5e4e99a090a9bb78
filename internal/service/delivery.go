package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voteverify/voteverify/internal/metrics"
	"github.com/voteverify/voteverify/internal/models"
)

var (
	ErrUnknownMethod = errors.New("invalid delivery method")
	ErrChatNotLinked = errors.New("user not registered with Telegram bot")
)

// ConfigError reports a channel that cannot run because credentials are missing.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// DispatchError wraps a channel failure. Its text is the channel's own message.
type DispatchError struct {
	Method models.DeliveryMethod
	Err    error
}

func (e *DispatchError) Error() string {
	return e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Channel delivers a code to a phone number and returns the provider's message id.
type Channel interface {
	Deliver(ctx context.Context, phone, code string) (string, error)
}

type Dispatcher struct {
	channels map[models.DeliveryMethod]Channel
	timeout  time.Duration
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		channels: make(map[models.DeliveryMethod]Channel),
		timeout:  timeout,
	}
}

func (d *Dispatcher) Register(method models.DeliveryMethod, ch Channel) {
	d.channels[method] = ch
}

func (d *Dispatcher) Supports(method models.DeliveryMethod) bool {
	_, ok := d.channels[method]
	return ok
}

func (d *Dispatcher) Dispatch(ctx context.Context, method models.DeliveryMethod, phone, code string) (string, error) {
	ch, ok := d.channels[method]
	if !ok {
		return "", ErrUnknownMethod
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	messageID, err := ch.Deliver(ctx, phone, code)
	metrics.DeliveryDuration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.OTPDeliveries.WithLabelValues(string(method), "failed").Inc()
		return "", &DispatchError{Method: method, Err: err}
	}

	metrics.OTPDeliveries.WithLabelValues(string(method), "sent").Inc()
	return messageID, nil
}

// OTPMessage is the text both channels send.
func OTPMessage(code string, expiry time.Duration) string {
	return fmt.Sprintf("Your VoteVerify verification code is: %s. This code will expire in %d minutes.",
		code, int(expiry.Minutes()))
}

// FormatE164 normalizes a phone number. Numbers without a leading + are taken as
// national numbers when they have ten digits, otherwise as already carrying a country code.
func FormatE164(phone, defaultCountryCode string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	if d == "" {
		return ""
	}
	if strings.HasPrefix(strings.TrimSpace(phone), "+") || len(d) != 10 {
		return "+" + d
	}
	return "+" + defaultCountryCode + d
}
