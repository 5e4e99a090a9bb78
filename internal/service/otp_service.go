package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/config"
	"github.com/voteverify/voteverify/internal/metrics"
	"github.com/voteverify/voteverify/internal/models"
	"github.com/voteverify/voteverify/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Reason explains why a verification did not succeed.
type Reason string

const (
	ReasonNotFound        Reason = "OTP_NOT_FOUND"
	ReasonExpired         Reason = "OTP_EXPIRED"
	ReasonTooManyAttempts Reason = "OTP_TOO_MANY_ATTEMPTS"
	ReasonMismatch        Reason = "OTP_MISMATCH"
)

func (r Reason) Message() string {
	switch r {
	case ReasonNotFound:
		return "No OTP found. Please request a new code."
	case ReasonExpired:
		return "OTP has expired. Please request a new code."
	case ReasonTooManyAttempts:
		return "Too many failed attempts. Please request a new code."
	case ReasonMismatch:
		return "Invalid OTP. Please try again."
	}
	return ""
}

type VerifyResult struct {
	Valid  bool
	Reason Reason
	// Method is the channel the consumed code was sent through.
	Method models.DeliveryMethod
}

// Delivery describes a code that was stored and handed to a channel.
// DebugCode is only set in demo mode, where no channel is called.
type Delivery struct {
	Method    models.DeliveryMethod
	MessageID string
	DebugCode string
}

type OTPService struct {
	store      repository.OTPStore
	dispatcher *Dispatcher
	cfg        *config.OTPConfig
	logger     *logrus.Logger
	now        func() time.Time
}

func NewOTPService(store repository.OTPStore, dispatcher *Dispatcher, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source; used by tests to move past expiry.
func (s *OTPService) WithClock(now func() time.Time) *OTPService {
	s.now = now
	return s
}

func (s *OTPService) GenerateOTP() (string, error) {
	return GenerateCode(s.cfg.Length)
}

// StoreOTP creates or overwrites the record for phone with a fresh expiry and zero attempts.
func (s *OTPService) StoreOTP(ctx context.Context, phone, code string, method models.DeliveryMethod) error {
	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		return fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.now()
	rec := models.OTPRecord{
		CodeHash:  string(hashedOTP),
		Phone:     phone,
		Method:    method,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	if err := s.store.Save(ctx, phone, rec); err != nil {
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	metrics.OTPIssued.WithLabelValues(string(method)).Inc()
	return nil
}

// VerifyOTP checks existence, then expiry, then the attempt budget, then the code,
// all inside one atomic store mutation.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, code string) (VerifyResult, error) {
	var result VerifyResult
	now := s.now()

	err := s.store.Mutate(ctx, phone, func(rec *models.OTPRecord) repository.Mutation {
		if rec == nil {
			result = VerifyResult{Reason: ReasonNotFound}
			return repository.Keep
		}

		if rec.Expired(now) {
			result = VerifyResult{Reason: ReasonExpired}
			return repository.Remove
		}

		rec.Attempts++
		if rec.Attempts > s.cfg.MaxAttempts {
			result = VerifyResult{Reason: ReasonTooManyAttempts}
			return repository.Remove
		}

		if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) != nil {
			result = VerifyResult{Reason: ReasonMismatch}
			return repository.Update
		}

		result = VerifyResult{Valid: true, Method: rec.Method}
		return repository.Remove
	})
	if err != nil {
		s.logger.WithError(err).WithField("phone", phone).Error("Failed to verify OTP")
		return VerifyResult{}, fmt.Errorf("failed to verify OTP: %w", err)
	}

	label := "valid"
	if !result.Valid {
		label = string(result.Reason)
	}
	metrics.OTPVerifications.WithLabelValues(label).Inc()

	return result, nil
}

// SendOTP issues a new code and hands it to the channel for method. A failed
// delivery leaves the stored code in place; resending simply overwrites it.
func (s *OTPService) SendOTP(ctx context.Context, phone string, method models.DeliveryMethod) (*Delivery, error) {
	if !method.Valid() || !s.cfg.DemoMode && !s.dispatcher.Supports(method) {
		return nil, ErrUnknownMethod
	}

	if s.cfg.DemoMode {
		if err := s.StoreOTP(ctx, phone, s.cfg.DemoCode, method); err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{
			"phone":  phone,
			"method": method,
			"otp":    s.cfg.DemoCode,
		}).Info("OTP stored in demo mode, delivery skipped")
		return &Delivery{Method: method, DebugCode: s.cfg.DemoCode}, nil
	}

	otp, err := s.GenerateOTP()
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP: %w", err)
	}

	if err := s.StoreOTP(ctx, phone, otp, method); err != nil {
		return nil, err
	}

	messageID, err := s.dispatcher.Dispatch(ctx, method, phone, otp)
	if err != nil {
		entry := s.logger.WithError(err).WithFields(logrus.Fields{"phone": phone, "method": method})
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			entry.Error("Delivery channel is not configured")
		} else {
			entry.Warn("Failed to deliver OTP")
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"phone":      phone,
		"method":     method,
		"message_id": messageID,
	}).Info("OTP sent")

	return &Delivery{Method: method, MessageID: messageID}, nil
}
