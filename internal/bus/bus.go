// Package bus bridges the channel adapter to the host's message consumer
// over in-process Go channels.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"slackbridge/internal/domain"
)

const publishTimeout = 10 * time.Second

const defaultIndexSize = 1000

// Delivery is one canonical message handed to the pipeline. Consumers must
// upsert by (Message.ID, ConversationID): an edit arrives as a second
// delivery under the same key.
type Delivery struct {
	ConversationID string
	Message        domain.Message
}

// Deletion identifies a message removed upstream.
type Deletion struct {
	ConversationID string
	ID             string
}

// InMemoryPipeline implements domain.Pipeline over buffered channels. It
// also keeps a bounded index of delivered messages so reaction events can be
// resolved locally, thread replies included.
type InMemoryPipeline struct {
	deliveries chan Delivery
	deletions  chan Deletion
	logger     *slog.Logger

	mu       sync.RWMutex
	closed   bool
	index    map[string]domain.StoredMessage
	order    []string
	maxIndex int
	seen     map[string]string // conversation id -> last seen timestamp
	seenFn   func(conversationID, timestamp string)
}

// New creates a pipeline with the given delivery buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryPipeline {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryPipeline{
		deliveries: make(chan Delivery, bufferSize),
		deletions:  make(chan Deletion, bufferSize),
		logger:     logger,
		index:      make(map[string]domain.StoredMessage),
		maxIndex:   defaultIndexSize,
		seen:       make(map[string]string),
	}
}

// OnMessage records the message in the local index and publishes it.
// Blocks up to 10 seconds if the buffer is full instead of dropping.
func (p *InMemoryPipeline) OnMessage(conversationID string, msg domain.Message) {
	p.remember(conversationID, msg)

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		p.logger.Warn("attempted to publish to closed pipeline")
		return
	}

	d := Delivery{ConversationID: conversationID, Message: msg}
	select {
	case p.deliveries <- d:
	default:
		p.logger.Warn("delivery buffer full, waiting...", "conversation", conversationID, "id", msg.ID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case p.deliveries <- d:
		case <-timer.C:
			p.logger.Error("message dropped: delivery buffer full for 10s",
				"conversation", conversationID,
				"id", msg.ID,
			)
		}
	}
}

// OnConversationSeen records the newest activity timestamp per conversation
// and invokes the optional discovery hook.
func (p *InMemoryPipeline) OnConversationSeen(conversationID, timestamp string) {
	p.mu.Lock()
	p.seen[conversationID] = timestamp
	fn := p.seenFn
	p.mu.Unlock()
	if fn != nil {
		fn(conversationID, timestamp)
	}
}

// OnMessageDeleted drops the message from the local index and publishes the
// deletion without blocking.
func (p *InMemoryPipeline) OnMessageDeleted(conversationID, id string) {
	p.mu.Lock()
	delete(p.index, indexKey(conversationID, id))
	p.mu.Unlock()

	select {
	case p.deletions <- Deletion{ConversationID: conversationID, ID: id}:
	default:
		p.logger.Warn("deletion buffer full, dropped", "conversation", conversationID, "id", id)
	}
}

// LookupMessage recalls a delivered message by key. Edits overwrite the
// entry, so only the latest content is ever returned.
func (p *InMemoryPipeline) LookupMessage(conversationID, id string) (domain.StoredMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stored, ok := p.index[indexKey(conversationID, id)]
	return stored, ok
}

// Messages returns the delivery stream for the host to consume.
func (p *InMemoryPipeline) Messages() <-chan Delivery {
	return p.deliveries
}

// Deletions returns the deletion stream.
func (p *InMemoryPipeline) Deletions() <-chan Deletion {
	return p.deletions
}

// OnSeen installs a hook invoked for every conversation-seen update.
func (p *InMemoryPipeline) OnSeen(fn func(conversationID, timestamp string)) {
	p.mu.Lock()
	p.seenFn = fn
	p.mu.Unlock()
}

// LastSeen returns the newest recorded activity timestamp for a conversation.
func (p *InMemoryPipeline) LastSeen(conversationID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ts, ok := p.seen[conversationID]
	return ts, ok
}

// Close stops accepting deliveries.
func (p *InMemoryPipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.deliveries)
		close(p.deletions)
	}
}

func (p *InMemoryPipeline) remember(conversationID string, msg domain.Message) {
	key := indexKey(conversationID, msg.ID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.index[key]; !exists {
		p.order = append(p.order, key)
		if len(p.order) > p.maxIndex {
			delete(p.index, p.order[0])
			p.order = p.order[1:]
		}
	}
	p.index[key] = domain.StoredMessage{Content: msg.Content, ThreadKey: msg.ThreadKey}
}

func indexKey(conversationID, id string) string {
	return conversationID + "\x00" + id
}
