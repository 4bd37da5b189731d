package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kitaworks/agentcore/pkg/models"
)

// maxMessagesPerConversation limits stored messages per conversation to
// prevent unbounded memory growth. When exceeded, the oldest are trimmed.
const maxMessagesPerConversation = 1000

// MemoryStore provides an in-memory Store implementation for testing and
// local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]*models.Message{},
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv, ok := m.conversations[conversationID]; ok {
		return cloneConversation(conv), nil
	}
	now := time.Now()
	conv := &models.Conversation{
		ID:        conversationID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	return cloneConversation(conv), nil
}

func (m *MemoryStore) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	clone := cloneMessage(msg)
	clone.ConversationID = conversationID
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	// Reflect generated fields back to the caller.
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt

	m.messages[conversationID] = append(m.messages[conversationID], clone)
	if len(m.messages[conversationID]) > maxMessagesPerConversation {
		excess := len(m.messages[conversationID]) - maxMessagesPerConversation
		m.messages[conversationID] = m.messages[conversationID][excess:]
	}
	conv.UpdatedAt = clone.CreatedAt
	return nil
}

func (m *MemoryStore) History(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := m.messages[conversationID]
	if len(messages) == 0 {
		return []*models.Message{}, nil
	}
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*models.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneConversation(conv *models.Conversation) *models.Conversation {
	if conv == nil {
		return nil
	}
	clone := *conv
	if conv.Metadata != nil {
		clone.Metadata = make(map[string]any, len(conv.Metadata))
		for k, v := range conv.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	if len(msg.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolExecutionResult{}, msg.ToolResults...)
	}
	return &clone
}
