package domain

// Message is the canonical unit handed to the downstream pipeline. ID and
// ConversationID together form a stable primary key: re-delivery of the same
// pair with different content is an edit and overwrites prior downstream
// state instead of duplicating it.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	SenderTZ       string // optional, IANA name
	Content        string // possibly empty for attachments-only messages
	Timestamp      string // ISO 8601
	FromSelf       bool
	BotOrigin      bool
	ThreadKey      string // empty = top-level
	Attachments    []Attachment
	Reaction       bool
}

// Attachment is a downloaded file stored on local disk. Size is the actual
// stored byte count, not the size the platform declared.
type Attachment struct {
	Name     string
	MimeType string
	Size     int64
	Path     string
}

// OutboundItem is a send deferred because the adapter was disconnected or a
// delivery attempt failed. Items are consumed exactly once by the drain loop
// and ordering within a conversation is preserved.
type OutboundItem struct {
	ConversationID string
	Text           string
	ThreadKey      string
}

// IdentityRecord is a resolved platform user. Cached for the process
// lifetime; names rarely change mid-session.
type IdentityRecord struct {
	DisplayName string
	Timezone    string
}

// ConversationSync names a conversation and the newest event timestamp
// already processed for it. An empty LastTimestamp means no prior state.
type ConversationSync struct {
	ID            string
	LastTimestamp string
}
