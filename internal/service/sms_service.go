package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/config"
)

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// SMSService delivers codes through the Twilio Messages API.
type SMSService struct {
	client      *resty.Client
	cfg         *config.TwilioConfig
	expiry      time.Duration
	countryCode string
	logger      *logrus.Logger
}

func NewSMSService(cfg *config.TwilioConfig, delivery *config.DeliveryConfig, expiry time.Duration, logger *logrus.Logger) *SMSService {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(delivery.Timeout)

	return &SMSService{
		client:      client,
		cfg:         cfg,
		expiry:      expiry,
		countryCode: delivery.DefaultCountryCode,
		logger:      logger,
	}
}

func (s *SMSService) Deliver(ctx context.Context, phone, code string) (string, error) {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
		return "", &ConfigError{Message: "Twilio credentials are not configured"}
	}
	if s.cfg.FromNumber == "" {
		return "", &ConfigError{Message: "Twilio sender number is not configured"}
	}

	var msg twilioMessage
	var apiErr twilioError

	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken).
		SetPathParam("accountSid", s.cfg.AccountSID).
		SetFormData(map[string]string{
			"To":   FormatE164(phone, s.countryCode),
			"From": s.cfg.FromNumber,
			"Body": OTPMessage(code, s.expiry),
		}).
		SetResult(&msg).
		SetError(&apiErr).
		Post("/2010-04-01/Accounts/{accountSid}/Messages.json")
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		s.logger.WithError(err).Warn("Twilio request failed")
		return "", errors.New("failed to send SMS")
	}

	if resp.IsError() {
		if apiErr.Message != "" {
			return "", errors.New(apiErr.Message)
		}
		return "", fmt.Errorf("SMS gateway returned status %d", resp.StatusCode())
	}

	s.logger.WithFields(logrus.Fields{
		"sid":    msg.SID,
		"status": msg.Status,
	}).Debug("Twilio accepted message")

	return msg.SID, nil
}
