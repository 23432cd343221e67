package models

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

// Webhook is a Discord delivery endpoint.
type Webhook struct {
	ID        int64
	Name      string
	URL       string
	IsEnabled bool
}

func (w *Webhook) String() string {
	return fmt.Sprintf("Webhook(id=%d, name=%s)", w.ID, w.Name)
}

// Message is one queued Discord payload.
type Message struct {
	ID        string                    `json:"id"`
	Content   string                    `json:"content,omitempty"`
	Username  string                    `json:"username,omitempty"`
	AvatarURL string                    `json:"avatar_url,omitempty"`
	Embeds    []*discordgo.MessageEmbed `json:"embeds,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(content string, embeds ...*discordgo.MessageEmbed) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Content:   content,
		Embeds:    embeds,
		CreatedAt: time.Now().UTC(),
	}
}

// WebhookParams converts the message into the Discord execute-webhook body.
func (m *Message) WebhookParams() *discordgo.WebhookParams {
	return &discordgo.WebhookParams{
		Content:   m.Content,
		Username:  m.Username,
		AvatarURL: m.AvatarURL,
		Embeds:    m.Embeds,
	}
}
