package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/models"
	"github.com/voteverify/voteverify/internal/repository"
)

const (
	welcomeText = "Welcome to VoteVerify! 🗳️\n\n" +
		"I'll help you receive verification codes for your VoteVerify account.\n\n" +
		"Please send your phone number to link it with your Telegram account. " +
		"You can use the button below to share your contact."
	linkedText = "✅ Your phone number has been successfully linked!\n\n" +
		"You will now receive verification codes through this chat when you log in to VoteVerify."
	linkFailedText = "❌ There was a problem linking your phone number. Please try again later or contact support."
	foreignText    = "Please share your own phone number using the button below."
)

// TelegramService delivers codes to chats that linked their phone number through the bot.
type TelegramService struct {
	bot         *TelegramBot
	links       repository.ChatLinkRepository
	expiry      time.Duration
	countryCode string
	logger      *logrus.Logger
}

func NewTelegramService(bot *TelegramBot, links repository.ChatLinkRepository, expiry time.Duration, countryCode string, logger *logrus.Logger) *TelegramService {
	return &TelegramService{
		bot:         bot,
		links:       links,
		expiry:      expiry,
		countryCode: countryCode,
		logger:      logger,
	}
}

func (s *TelegramService) Deliver(ctx context.Context, phone, code string) (string, error) {
	if !s.bot.Configured() {
		return "", &ConfigError{Message: "Telegram bot token is not configured"}
	}

	chatID, err := s.links.ChatID(ctx, FormatE164(phone, s.countryCode))
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrChatNotLinked
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up chat: %w", err)
	}

	messageID, err := s.bot.SendMessage(ctx, chatID, OTPMessage(code, s.expiry))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(messageID, 10), nil
}

// LinkChat registers chatID as the destination for phone.
func (s *TelegramService) LinkChat(ctx context.Context, phone, chatID string) error {
	normalized := FormatE164(phone, s.countryCode)
	if normalized == "" {
		return fmt.Errorf("invalid phone number %q", phone)
	}
	if err := s.links.Link(ctx, normalized, chatID); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"phone":   normalized,
		"chat_id": chatID,
	}).Info("Telegram chat linked")
	return nil
}

// HandleUpdate reacts to /start with a contact request and links shared contacts.
func (s *TelegramService) HandleUpdate(ctx context.Context, update *models.Update) error {
	msg := update.Message
	if msg == nil {
		return nil
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if strings.TrimSpace(msg.Text) == "/start" {
		if _, err := s.bot.SendMessage(ctx, chatID, welcomeText); err != nil {
			return fmt.Errorf("failed to send welcome: %w", err)
		}
		if err := s.bot.RequestContact(ctx, chatID); err != nil {
			return fmt.Errorf("failed to request contact: %w", err)
		}
	}

	if msg.Contact != nil && msg.Contact.PhoneNumber != "" {
		// Only the sender's own contact, shared through the keyboard, carries their user id.
		if msg.From == nil || msg.Contact.UserID != msg.From.ID {
			_, err := s.bot.SendMessage(ctx, chatID, foreignText)
			return err
		}

		reply := linkedText
		linkErr := s.LinkChat(ctx, msg.Contact.PhoneNumber, chatID)
		if linkErr != nil {
			s.logger.WithError(linkErr).WithField("chat_id", chatID).Error("Failed to link Telegram chat")
			reply = linkFailedText
		}
		if _, err := s.bot.SendMessage(ctx, chatID, reply); err != nil {
			return fmt.Errorf("failed to confirm link: %w", err)
		}
		return linkErr
	}

	return nil
}

func (s *TelegramService) Bot() *TelegramBot {
	return s.bot
}
