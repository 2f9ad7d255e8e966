package slack

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"slackbridge/internal/domain"
	"slackbridge/internal/metrics"
)

const (
	// maxMessageLen is the platform's per-message size limit.
	maxMessageLen = 4000
	// splitSafetyMargin keeps chunks clear of the limit after any
	// server-side expansion of mention tokens.
	splitSafetyMargin = 100
)

// sendFunc performs one full logical send: mention resolution, chunking,
// sequential chunk delivery.
type sendFunc func(ctx context.Context, item domain.OutboundItem) error

// Outbox buffers outbound messages while the adapter is disconnected or
// after a failed delivery, and drains them in FIFO order once connected.
// Items are never dropped; a failed item is retried until it sends or the
// process shuts down.
type Outbox struct {
	send   sendFunc
	pacer  *Pacer
	logger *slog.Logger

	mu       sync.Mutex
	items    []domain.OutboundItem
	draining bool
}

func NewOutbox(send sendFunc, pacer *Pacer, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	if pacer == nil {
		pacer = NewPacer(1, 60)
	}
	return &Outbox{send: send, pacer: pacer, logger: logger}
}

// Enqueue appends an item to the back of the queue.
func (o *Outbox) Enqueue(item domain.OutboundItem) {
	o.mu.Lock()
	o.items = append(o.items, item)
	n := len(o.items)
	o.mu.Unlock()
	metrics.Collector.Gauge("slackbridge_outbound_queue_depth", "Outbound items awaiting delivery", "").Set(int64(n))
	o.logger.Info("outbound queued", "conversation", item.ConversationID, "queued", n)
}

// Len reports the current queue depth.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Drain processes queued items strictly in enqueue order until the queue is
// empty. Only one drain runs at a time: a second call while draining is a
// no-op, since the running loop picks up newly enqueued items itself. A
// failed item is re-enqueued at the back and the loop moves on, so a single
// poison item cannot stall the rest of the queue.
func (o *Outbox) Drain(ctx context.Context) {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.draining = false
		o.mu.Unlock()
	}()

	for {
		o.mu.Lock()
		if len(o.items) == 0 {
			o.mu.Unlock()
			metrics.Collector.Gauge("slackbridge_outbound_queue_depth", "Outbound items awaiting delivery", "").Set(0)
			return
		}
		item := o.items[0]
		o.items = o.items[1:]
		o.mu.Unlock()

		if err := o.pacer.Wait(ctx); err != nil {
			// Shutting down: put the item back at the front so nothing is lost
			// and order is preserved for the next drain.
			o.mu.Lock()
			o.items = append([]domain.OutboundItem{item}, o.items...)
			o.mu.Unlock()
			return
		}
		if err := o.send(ctx, item); err != nil {
			metrics.Collector.Counter("slackbridge_outbound_requeued_total", "Failed sends returned to the queue", "").Inc()
			o.logger.Warn("outbound send failed, requeued", "conversation", item.ConversationID, "err", err)
			o.Enqueue(item)
			continue
		}
		metrics.Collector.Counter("slackbridge_outbound_sent_total", "Outbound messages delivered", "").Inc()
	}
}

// SplitMessage cuts text into chunks of at most limit bytes, preferring the
// last newline at or before the limit and falling back to a hard cut only
// when no newline exists in range. Chunks concatenate back to the original
// text exactly.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n') + 1
		if cut == 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// ResolveMentions rewrites @Display Name tokens into platform mention syntax
// using the identity cache's reverse index. The index is sorted longest name
// first, so "@Matt Weiss" never resolves as "@Matt" plus trailing text.
func ResolveMentions(text string, index []NameRef) string {
	if !strings.Contains(text, "@") {
		return text
	}
	for _, ref := range index {
		text = strings.ReplaceAll(text, "@"+ref.Name, "<@"+ref.ID+">")
	}
	return text
}
