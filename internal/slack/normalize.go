package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"slackbridge/internal/domain"
)

// maxReactionSnippet bounds the quoted original content inside a synthesized
// reaction message.
const maxReactionSnippet = 200

// Normalizer turns tagged inbound events into canonical messages. It owns
// the registration gate and the conversation-seen side channel; callers only
// deliver its non-nil results.
type Normalizer struct {
	identity *IdentityCache
	files    *FileFetcher
	registry domain.Registry
	pipeline domain.Pipeline
	history  historyAPI
	logger   *slog.Logger

	selfUserID string
	selfBotID  string
}

type NormalizerOptions struct {
	Identity *IdentityCache
	Files    *FileFetcher
	Registry domain.Registry
	Pipeline domain.Pipeline
	History  historyAPI
	Logger   *slog.Logger
}

func NewNormalizer(opts NormalizerOptions) *Normalizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		identity: opts.Identity,
		files:    opts.Files,
		registry: opts.Registry,
		pipeline: opts.Pipeline,
		history:  opts.History,
		logger:   logger,
	}
}

// SetSelf records the adapter's own identity, known after authentication and
// before any event is processed.
func (n *Normalizer) SetSelf(userID, botID string) {
	n.selfUserID = userID
	n.selfBotID = botID
}

// NormalizeNew turns a live message event into a canonical message. Nil
// means drop: self-authored, administrative subtype, empty after mention
// stripping, or posted in a conversation the pipeline has not registered.
// The conversation-seen side channel fires for every event regardless.
func (n *Normalizer) NormalizeNew(ctx context.Context, ev domain.NewMessage) *domain.Message {
	if ev.ConversationID == "" || ev.ID == "" {
		return nil
	}
	n.pipeline.OnConversationSeen(ev.ConversationID, isoTimestamp(ev.ID))

	if n.fromSelf(ev.SenderID, ev.BotID) {
		return nil
	}
	if !deliverableSubtype(ev.SubType) {
		return nil
	}
	text := stripSelfMention(ev.Text, n.selfUserID)
	if text == "" && len(ev.Files) == 0 {
		return nil
	}
	if _, ok := n.registry.Registered()[ev.ConversationID]; !ok {
		return nil
	}

	var atts []domain.Attachment
	if len(ev.Files) > 0 && n.files != nil {
		atts = n.files.Fetch(ctx, ev.ConversationID, ev.ID, ev.Files)
	}
	rec := n.identity.Resolve(ctx, ev.SenderID)
	return &domain.Message{
		ID:             ev.ID,
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		SenderName:     rec.DisplayName,
		SenderTZ:       rec.Timezone,
		Content:        text,
		Timestamp:      isoTimestamp(ev.ID),
		BotOrigin:      ev.BotID != "",
		ThreadKey:      ThreadKey(ev.ThreadParent, ev.ID, ev.Mention, ev.HasReplies),
		Attachments:    atts,
	}
}

// NormalizeEdit normalizes the post-edit state of a message. The result
// keeps the original message id, so downstream treats it as an upsert keyed
// by (ID, ConversationID) rather than a new message.
func (n *Normalizer) NormalizeEdit(ctx context.Context, ev domain.Edit) *domain.Message {
	return n.NormalizeNew(ctx, ev.Message)
}

// NormalizeDelete returns the key to remove downstream. Deletions of the
// bot's own messages are not propagated.
func (n *Normalizer) NormalizeDelete(ev domain.Delete) (conversationID, id string, ok bool) {
	if ev.ConversationID == "" || ev.ID == "" {
		return "", "", false
	}
	n.pipeline.OnConversationSeen(ev.ConversationID, isoTimestamp(ev.ID))
	if n.fromSelf(ev.SenderID, ev.BotID) {
		return "", "", false
	}
	return ev.ConversationID, ev.ID, true
}

// NormalizeReaction synthesizes a canonical message for a reaction to one of
// the bot's own messages in a registered conversation. Everything else is
// dropped. The reacted-to content is resolved locally when the pipeline can
// recall it (the local index also covers thread replies), falling back to a
// single-message history fetch.
func (n *Normalizer) NormalizeReaction(ctx context.Context, ev domain.Reaction) *domain.Message {
	if ev.ConversationID == "" || ev.ItemID == "" {
		return nil
	}
	n.pipeline.OnConversationSeen(ev.ConversationID, isoTimestamp(ev.ItemID))

	if ev.Removed {
		return nil
	}
	if ev.ItemSenderID == "" || ev.ItemSenderID != n.selfUserID {
		return nil
	}
	if _, ok := n.registry.Registered()[ev.ConversationID]; !ok {
		return nil
	}

	content, threadKey := n.reactedMessage(ctx, ev.ConversationID, ev.ItemID)
	if threadKey == "" {
		// Reactions to thread parents stay anchored at the parent.
		threadKey = ev.ItemID
	}
	rec := n.identity.Resolve(ctx, ev.SenderID)
	body := fmt.Sprintf("%s reacted with :%s:", rec.DisplayName, ev.Emoji)
	if snip := snippet(content, maxReactionSnippet); snip != "" {
		body = fmt.Sprintf("%s to %q", body, snip)
	}

	id := ev.EventID
	if id == "" {
		id = ev.ItemID
	}
	return &domain.Message{
		ID:             id,
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		SenderName:     rec.DisplayName,
		SenderTZ:       rec.Timezone,
		Content:        body,
		Timestamp:      isoTimestamp(id),
		FromSelf:       ev.SenderID == n.selfUserID,
		ThreadKey:      threadKey,
		Reaction:       true,
	}
}

func (n *Normalizer) fromSelf(senderID, botID string) bool {
	if senderID != "" && senderID == n.selfUserID {
		return true
	}
	if botID != "" && botID == n.selfBotID {
		return true
	}
	return false
}

func (n *Normalizer) reactedMessage(ctx context.Context, conversationID, ts string) (content, threadKey string) {
	if stored, ok := n.pipeline.LookupMessage(conversationID, ts); ok {
		return stored.Content, stored.ThreadKey
	}
	if n.history == nil {
		return "", ""
	}
	resp, err := n.history.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: conversationID,
		Latest:    ts,
		Oldest:    ts,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil || resp == nil || len(resp.Messages) == 0 {
		n.logger.Warn("reacted message lookup failed", "conversation", conversationID, "ts", ts, "err", err)
		return "", ""
	}
	m := resp.Messages[0]
	if m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp {
		threadKey = m.ThreadTimestamp
	}
	return m.Text, threadKey
}

// deliverableSubtype reports whether a message subtype carries user content.
// Administrative notices (joins, topic changes) are skipped; file shares and
// thread broadcasts flow through.
func deliverableSubtype(sub string) bool {
	switch sub {
	case "", "file_share", "thread_broadcast":
		return true
	}
	return false
}

// stripSelfMention removes one leading mention of the adapter's own identity.
func stripSelfMention(text, selfUserID string) string {
	text = strings.TrimSpace(text)
	if selfUserID == "" {
		return text
	}
	token := "<@" + selfUserID + ">"
	if strings.HasPrefix(text, token) {
		text = strings.TrimSpace(strings.TrimPrefix(text, token))
	}
	return text
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// isoTimestamp converts a platform event timestamp ("1700000000.000123",
// fraction in microseconds) to ISO 8601. Unparseable input passes through
// unchanged rather than failing the event.
func isoTimestamp(ts string) string {
	secPart, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return ts
	}
	var ns int64
	if frac != "" {
		if us, err := strconv.ParseInt(frac, 10, 64); err == nil {
			for i := len(frac); i < 6; i++ {
				us *= 10
			}
			ns = us * int64(time.Microsecond)
		}
	}
	return time.Unix(sec, ns).UTC().Format(time.RFC3339Nano)
}

// tsLess compares platform timestamps numerically.
func tsLess(a, b string) bool {
	af, _ := strconv.ParseFloat(a, 64)
	bf, _ := strconv.ParseFloat(b, 64)
	return af < bf
}
