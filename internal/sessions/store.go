// Package sessions persists conversation transcripts. The coordinator loads
// history at turn start and folds assistant/tool messages back in as the
// loop progresses; the store only sees complete messages, never in-flight
// turn state.
package sessions

import (
	"context"
	"errors"

	"github.com/kitaworks/agentcore/pkg/models"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Store is the conversation persistence interface.
type Store interface {
	// GetOrCreate returns the conversation with the given id, creating it
	// for the user if it does not exist.
	GetOrCreate(ctx context.Context, conversationID, userID string) (*models.Conversation, error)

	// Get returns a conversation by id, or ErrNotFound.
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)

	// AppendMessage adds one message to a conversation's transcript.
	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error

	// History returns the most recent messages in chronological order.
	// A limit of zero means no limit.
	History(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)

	// Close releases any underlying resources.
	Close() error
}
