package domain

import "context"

// Pipeline is the downstream consumer of normalized messages.
type Pipeline interface {
	// OnMessage delivers a canonical message. Redelivery of an existing
	// (ID, ConversationID) pair is an upsert.
	OnMessage(conversationID string, msg Message)

	// OnConversationSeen fires for every inbound event carrying a
	// conversation id, registered or not, so new conversations can be
	// discovered.
	OnConversationSeen(conversationID, timestamp string)

	// OnMessageDeleted removes a message from downstream state.
	OnMessageDeleted(conversationID, id string)

	// LookupMessage recalls an already delivered message. Preferred over a
	// remote history fetch when resolving reaction targets because it also
	// covers thread replies.
	LookupMessage(conversationID, id string) (StoredMessage, bool)
}

// StoredMessage is what a pipeline can recall about a delivered message.
type StoredMessage struct {
	Content   string
	ThreadKey string
}

// ConversationConfig describes a conversation the pipeline wants delivered.
type ConversationConfig struct {
	Name string
}

// Registry reports the conversations the downstream pipeline has registered
// interest in. Consulted on every inbound event and before any delivery or
// catch-up decision.
type Registry interface {
	Registered() map[string]ConversationConfig
}

// MetadataStore persists per-conversation sync state across restarts.
type MetadataStore interface {
	// LastSyncTimestamp returns the newest processed event timestamp for the
	// conversation, or "" when the conversation is unknown.
	LastSyncTimestamp(ctx context.Context, conversationID string) (string, error)
	SetLastSyncTimestamp(ctx context.Context, conversationID, ts string) error
	UpdateConversationName(ctx context.Context, conversationID, name string) error
	// Conversations lists every conversation with recorded sync state.
	Conversations(ctx context.Context) ([]ConversationSync, error)
}
