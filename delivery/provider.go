// Package delivery sends chat messages to subscribers via pluggable providers.
package delivery

import "context"

// Provider defines the interface for message sending implementations.
type Provider interface {
	// Send delivers a Markdown-formatted message to a chat.
	Send(ctx context.Context, chatID int64, text string) error
}
