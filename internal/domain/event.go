package domain

// InboundEvent is the tagged union of raw platform events. Several event
// subtypes share one wire shape upstream; translating them into explicit
// variants lets the normalizer match exhaustively instead of re-checking
// subtype strings everywhere.
type InboundEvent interface {
	inboundEvent()
}

// FileRef points at a platform-hosted attachment before download. Size is
// the size the platform declared; the fetcher records actual stored bytes.
type FileRef struct {
	ID          string
	Name        string
	MimeType    string
	Size        int64
	DownloadURL string
}

// NewMessage is a freshly posted message.
type NewMessage struct {
	ConversationID string
	ID             string // platform event timestamp, unique within the conversation
	SenderID       string
	BotID          string
	Text           string
	ThreadParent   string // explicit parent thread reference, empty for top-level
	SubType        string
	Mention        bool // the text mentions the adapter's own identity
	HasReplies     bool
	Files          []FileRef
}

// Edit wraps the post-edit state of a previously delivered message.
// Normalized results replace prior state keyed by (ID, ConversationID).
type Edit struct {
	Message NewMessage
}

// Delete identifies a removed message. SenderID and BotID describe the
// deleted message's author so bot-authored deletions can be suppressed.
type Delete struct {
	ConversationID string
	ID             string
	SenderID       string
	BotID          string
}

// Reaction is an emoji added to or removed from an existing message.
type Reaction struct {
	ConversationID string
	EventID        string // timestamp of the reaction event itself
	SenderID       string
	Emoji          string
	ItemID         string // timestamp of the reacted-to message
	ItemSenderID   string
	Removed        bool
}

func (NewMessage) inboundEvent() {}
func (Edit) inboundEvent()       {}
func (Delete) inboundEvent()     {}
func (Reaction) inboundEvent()   {}
