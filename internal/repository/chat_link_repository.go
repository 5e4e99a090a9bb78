package repository

import (
	"context"
	"sync"
	"time"

	"github.com/voteverify/voteverify/internal/models"
)

// ChatLinkRepository records which Telegram chat receives codes for a phone number.
type ChatLinkRepository interface {
	Link(ctx context.Context, phone, chatID string) error
	// ChatID returns ErrNotFound when the phone never opted in.
	ChatID(ctx context.Context, phone string) (string, error)
	Unlink(ctx context.Context, phone string) error
}

type MemoryChatLinkRepository struct {
	mu    sync.RWMutex
	links map[string]models.ChatLink
}

func NewMemoryChatLinkRepository() *MemoryChatLinkRepository {
	return &MemoryChatLinkRepository{links: make(map[string]models.ChatLink)}
}

func (r *MemoryChatLinkRepository) Link(_ context.Context, phone, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[phone] = models.ChatLink{Phone: phone, ChatID: chatID, LinkedAt: time.Now()}
	return nil
}

func (r *MemoryChatLinkRepository) ChatID(_ context.Context, phone string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[phone]
	if !ok {
		return "", ErrNotFound
	}
	return link.ChatID, nil
}

func (r *MemoryChatLinkRepository) Unlink(_ context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, phone)
	return nil
}
