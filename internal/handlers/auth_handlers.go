package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/config"
	"github.com/voteverify/voteverify/internal/middleware"
	"github.com/voteverify/voteverify/internal/models"
	"github.com/voteverify/voteverify/internal/service"
)

type AuthHandlers struct {
	otpService *service.OTPService
	jwtService *service.JWTService
	validator  *RequestValidator
	cfg        *config.Config
	logger     *logrus.Logger
}

func NewAuthHandlers(
	otpService *service.OTPService,
	jwtService *service.JWTService,
	validator *RequestValidator,
	cfg *config.Config,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService: otpService,
		jwtService: jwtService,
		validator:  validator,
		cfg:        cfg,
		logger:     logger,
	}
}

type SendOTPRequest struct {
	Identifier string `json:"identifier" validate:"required,len=10,number"`
	Method     string `json:"method" validate:"required,oneof=sms telegram"`
}

type DebugInfo struct {
	OTP string `json:"otp"`
}

type SendOTPResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Debug   *DebugInfo `json:"debug,omitempty"`
}

type VerifyOTPRequest struct {
	Identifier string `json:"identifier" validate:"required,len=10,number"`
	Code       string `json:"code" validate:"required,otpcode"`
}

type VerifyOTPResponse struct {
	Success           bool                      `json:"success"`
	Message           string                    `json:"message"`
	VerificationToken *models.VerificationToken `json:"verificationToken,omitempty"`
}

type EnvironmentCheckResponse struct {
	Success    bool     `json:"success"`
	Configured bool     `json:"configured"`
	DemoMode   bool     `json:"demoMode"`
	Missing    []string `json:"missing"`
}

func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if !bindRequest(w, r, h.validator, &req) {
		return
	}

	method := models.DeliveryMethod(req.Method)
	delivery, err := h.otpService.SendOTP(r.Context(), req.Identifier, method)
	if err != nil {
		h.respondSendError(w, err, method)
		return
	}

	resp := SendOTPResponse{
		Success: true,
		Message: fmt.Sprintf("OTP sent successfully via %s", method),
	}
	if delivery.DebugCode != "" {
		resp.Debug = &DebugInfo{OTP: delivery.DebugCode}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandlers) respondSendError(w http.ResponseWriter, err error, method models.DeliveryMethod) {
	var cfgErr *service.ConfigError
	var dispatchErr *service.DispatchError

	switch {
	case errors.Is(err, service.ErrUnknownMethod):
		respondWithError(w, http.StatusBadRequest, "INVALID_METHOD", "Invalid OTP delivery method")
	case errors.As(err, &cfgErr):
		respondWithError(w, http.StatusInternalServerError, "CHANNEL_NOT_CONFIGURED", cfgErr.Error())
	case errors.Is(err, service.ErrChatNotLinked):
		respondWithError(w, http.StatusBadRequest, "CHAT_NOT_LINKED", err.Error())
	case errors.As(err, &dispatchErr):
		respondWithError(w, http.StatusBadGateway, "DISPATCH_FAILED", dispatchErr.Error())
	default:
		h.logger.WithError(err).WithField("method", method).Error("Failed to send OTP")
		respondWithError(w, http.StatusInternalServerError, "OTP_SEND_FAILED",
			fmt.Sprintf("Failed to send OTP via %s. Please try again.", method))
	}
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !bindRequest(w, r, h.validator, &req) {
		return
	}

	result, err := h.otpService.VerifyOTP(r.Context(), req.Identifier, req.Code)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "OTP_VERIFICATION_FAILED", "Failed to process OTP verification")
		return
	}

	if !result.Valid {
		respondWithError(w, http.StatusBadRequest, string(result.Reason), result.Reason.Message())
		return
	}

	resp := VerifyOTPResponse{
		Success: true,
		Message: "OTP verified successfully",
	}

	token, err := h.jwtService.IssueVerificationToken(req.Identifier, result.Method)
	if err != nil {
		// The code is already consumed, so verification still succeeds.
		h.logger.WithError(err).Error("Failed to issue verification token")
	} else {
		resp.VerificationToken = token
	}

	respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandlers) EnvironmentCheck(w http.ResponseWriter, r *http.Request) {
	missing := h.cfg.MissingCredentials()
	respondWithJSON(w, http.StatusOK, EnvironmentCheckResponse{
		Success:    true,
		Configured: len(missing) == 0,
		DemoMode:   h.cfg.OTP.DemoMode,
		Missing:    missing,
	})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"identifier": claims.Phone,
		"verifiedAt": claims.IssuedAt.Time,
	})
}
