package models

import "time"

// ChatLink maps a phone number to the Telegram chat that opted in to receive codes.
type ChatLink struct {
	Phone    string    `json:"phone" dynamodbav:"Phone"`
	ChatID   string    `json:"chat_id" dynamodbav:"ChatID"`
	LinkedAt time.Time `json:"linked_at" dynamodbav:"LinkedAt"`
}

func (c *ChatLink) GetPK() string {
	return "CHAT#" + c.Phone
}

func (c *ChatLink) GetSK() string {
	return "METADATA"
}
