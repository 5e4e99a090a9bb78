package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/config"
	"github.com/voteverify/voteverify/internal/models"
	"github.com/voteverify/voteverify/internal/service"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

type TelegramHandlers struct {
	telegram  *service.TelegramService
	validator *RequestValidator
	cfg       *config.TelegramConfig
	logger    *logrus.Logger
}

func NewTelegramHandlers(telegram *service.TelegramService, validator *RequestValidator, cfg *config.TelegramConfig, logger *logrus.Logger) *TelegramHandlers {
	return &TelegramHandlers{
		telegram:  telegram,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

type SetupWebhookRequest struct {
	WebhookURL string `json:"webhookUrl" validate:"required,url"`
}

type InstructionsResponse struct {
	Success      bool         `json:"success"`
	Instructions Instructions `json:"instructions"`
}

type Instructions struct {
	Step1   string `json:"step1"`
	Step2   string `json:"step2"`
	Step3   string `json:"step3"`
	Step4   string `json:"step4"`
	BotLink string `json:"botLink"`
}

// Webhook answers 200 for every update it accepts so Telegram does not redeliver.
func (h *TelegramHandlers) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.cfg.WebhookSecret != "" {
		got := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.WebhookSecret)) != 1 {
			respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook secret")
			return
		}
	}

	var update models.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&update); err != nil {
		h.logger.WithError(err).Warn("Ignoring malformed Telegram update")
		respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if err := h.telegram.HandleUpdate(r.Context(), &update); err != nil {
		h.logger.WithError(err).WithField("update_id", update.UpdateID).Error("Failed to process Telegram update")
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *TelegramHandlers) SetupWebhook(w http.ResponseWriter, r *http.Request) {
	var req SetupWebhookRequest
	if !bindRequest(w, r, h.validator, &req) {
		return
	}

	if err := h.telegram.Bot().SetWebhook(r.Context(), req.WebhookURL, h.cfg.WebhookSecret); err != nil {
		h.respondBotError(w, err, "Failed to set webhook")
		return
	}

	h.logger.WithField("url", req.WebhookURL).Info("Telegram webhook registered")
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Telegram webhook set successfully",
	})
}

func (h *TelegramHandlers) Instructions(w http.ResponseWriter, r *http.Request) {
	info, err := h.telegram.Bot().GetMe(r.Context())
	if err != nil {
		h.respondBotError(w, err, "Failed to get bot information")
		return
	}

	respondWithJSON(w, http.StatusOK, InstructionsResponse{
		Success: true,
		Instructions: Instructions{
			Step1:   "Open Telegram and search for the bot: @" + info.Username,
			Step2:   "Start a chat with the bot by clicking the Start button or sending /start",
			Step3:   "Follow the instructions to share your phone number with the bot",
			Step4:   "Once your phone number is registered, you can receive verification codes via Telegram",
			BotLink: fmt.Sprintf("https://t.me/%s", info.Username),
		},
	})
}

func (h *TelegramHandlers) respondBotError(w http.ResponseWriter, err error, fallback string) {
	var cfgErr *service.ConfigError
	if errors.As(err, &cfgErr) {
		respondWithError(w, http.StatusInternalServerError, "CHANNEL_NOT_CONFIGURED", cfgErr.Error())
		return
	}

	h.logger.WithError(err).Error(fallback)
	msg := err.Error()
	if msg == "" {
		msg = fallback
	}
	respondWithError(w, http.StatusBadGateway, "TELEGRAM_API_ERROR", msg)
}
