package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voteverify/voteverify/internal/config"
	"github.com/voteverify/voteverify/internal/models"
	"github.com/voteverify/voteverify/internal/repository"
	"github.com/voteverify/voteverify/internal/service"
	"golang.org/x/crypto/bcrypt"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// captureChannel keeps the last delivered code per phone.
type captureChannel struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (c *captureChannel) Deliver(_ context.Context, phone, code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.codes[phone] = code
	return "SM1", nil
}

func (c *captureChannel) code(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[phone]
}

type authFixture struct {
	handlers *AuthHandlers
	channel  *captureChannel
	store    *repository.MemoryOTPStore
	cfg      *config.Config
	jwt      *service.JWTService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	logger := discardLogger()

	cfg := &config.Config{
		JWT: config.JWTConfig{SecretKey: "0123456789abcdef0123456789abcdef", Expiry: 15 * time.Minute},
		OTP: config.OTPConfig{
			Length:      6,
			Expiry:      10 * time.Minute,
			MaxAttempts: 3,
			HashCost:    bcrypt.MinCost,
			DemoCode:    "123456",
		},
	}

	store := repository.NewMemoryOTPStore()
	channel := &captureChannel{codes: make(map[string]string)}
	dispatcher := service.NewDispatcher(time.Second)
	dispatcher.Register(models.MethodSMS, channel)
	dispatcher.Register(models.MethodTelegram, channel)

	otpService := service.NewOTPService(store, dispatcher, &cfg.OTP, logger)
	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	require.NoError(t, err)

	v, err := NewRequestValidator(cfg.OTP.Length)
	require.NoError(t, err)

	return &authFixture{
		handlers: NewAuthHandlers(otpService, jwtService, v, cfg, logger),
		channel:  channel,
		store:    store,
		cfg:      cfg,
		jwt:      jwtService,
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h(rr, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return rr, out
}

func TestSendOTP_Validation(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{"identifier":`, ""},
		{"missing identifier", `{"method":"sms"}`, "identifier"},
		{"short identifier", `{"identifier":"555123","method":"sms"}`, "identifier"},
		{"non numeric identifier", `{"identifier":"555123456a","method":"sms"}`, "identifier"},
		{"signed identifier", `{"identifier":"-555123456","method":"sms"}`, "identifier"},
		{"unknown method", `{"identifier":"5551234567","method":"email"}`, "method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, out := postJSON(t, f.handlers.SendOTP, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, false, out["success"])
			if tt.field != "" {
				fields, ok := out["fields"].(map[string]any)
				require.True(t, ok)
				assert.Contains(t, fields, tt.field)
			}
		})
	}

	_, err := f.store.Get(context.Background(), "5551234567")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSendAndVerifyOTP(t *testing.T) {
	f := newAuthFixture(t)

	rr, out := postJSON(t, f.handlers.SendOTP, `{"identifier":"5551234567","method":"sms"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "OTP sent successfully via sms", out["message"])
	assert.NotContains(t, out, "debug")

	code := f.channel.code("5551234567")
	require.Len(t, code, 6)

	rr, out = postJSON(t, f.handlers.VerifyOTP, `{"identifier":"5551234567","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, out["success"])

	tok, ok := out["verificationToken"].(map[string]any)
	require.True(t, ok)
	claims, err := f.jwt.VerifyToken(tok["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "5551234567", claims.Phone)
	assert.Equal(t, "sms", claims.Method)

	rr, out = postJSON(t, f.handlers.VerifyOTP, `{"identifier":"5551234567","code":"`+code+`"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "OTP_NOT_FOUND", out["code"])
	assert.Equal(t, "No OTP found. Please request a new code.", out["error"])
}

func TestVerifyOTP_RejectsBadCodeShape(t *testing.T) {
	f := newAuthFixture(t)
	require.NoError(t, f.handlers.otpService.StoreOTP(context.Background(), "5551234567", "123456", models.MethodSMS))

	for _, body := range []string{
		`{"identifier":"5551234567","code":"12345"}`,
		`{"identifier":"5551234567","code":"1234567"}`,
		`{"identifier":"5551234567","code":"12a456"}`,
		`{"identifier":"5551234567"}`,
	} {
		rr, out := postJSON(t, f.handlers.VerifyOTP, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Equal(t, "VALIDATION_ERROR", out["code"], body)
	}

	rec, err := f.store.Get(context.Background(), "5551234567")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Attempts)
}

func TestVerifyOTP_MismatchThenExhausted(t *testing.T) {
	f := newAuthFixture(t)
	require.NoError(t, f.handlers.otpService.StoreOTP(context.Background(), "5551234567", "123456", models.MethodSMS))

	for i := 0; i < 3; i++ {
		rr, out := postJSON(t, f.handlers.VerifyOTP, `{"identifier":"5551234567","code":"000000"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "OTP_MISMATCH", out["code"])
		assert.Equal(t, "Invalid OTP. Please try again.", out["error"])
	}

	_, out := postJSON(t, f.handlers.VerifyOTP, `{"identifier":"5551234567","code":"000000"}`)
	assert.Equal(t, "OTP_TOO_MANY_ATTEMPTS", out["code"])
}

func TestSendOTP_DemoMode(t *testing.T) {
	f := newAuthFixture(t)
	f.cfg.OTP.DemoMode = true

	rr, out := postJSON(t, f.handlers.SendOTP, `{"identifier":"5551234567","method":"telegram"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	debug, ok := out["debug"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "123456", debug["otp"])
	assert.Empty(t, f.channel.code("5551234567"))

	rr, _ = postJSON(t, f.handlers.VerifyOTP, `{"identifier":"5551234567","code":"123456"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSendOTP_ChannelErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"not configured", &service.ConfigError{Message: "Twilio credentials are not configured"}, http.StatusInternalServerError, "CHANNEL_NOT_CONFIGURED", "Twilio credentials are not configured"},
		{"not linked", service.ErrChatNotLinked, http.StatusBadRequest, "CHAT_NOT_LINKED", "user not registered with Telegram bot"},
		{"gateway", assert.AnError, http.StatusBadGateway, "DISPATCH_FAILED", assert.AnError.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			f.channel.err = tt.err

			rr, out := postJSON(t, f.handlers.SendOTP, `{"identifier":"5551234567","method":"sms"}`)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, out["code"])
			assert.Equal(t, tt.msg, out["error"])

			// The stored code survives a failed delivery.
			_, err := f.store.Get(context.Background(), "5551234567")
			assert.NoError(t, err)
		})
	}
}

func TestEnvironmentCheck(t *testing.T) {
	f := newAuthFixture(t)
	f.cfg.Twilio = config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550000000"}

	rr := httptest.NewRecorder()
	f.handlers.EnvironmentCheck(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var out EnvironmentCheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.False(t, out.Configured)
	assert.Equal(t, []string{"TELEGRAM_BOT_TOKEN"}, out.Missing)
}

func TestMe_WithoutClaims(t *testing.T) {
	f := newAuthFixture(t)
	rr := httptest.NewRecorder()
	f.handlers.Me(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
