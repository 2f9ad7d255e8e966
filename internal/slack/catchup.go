package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"slackbridge/internal/domain"
	"slackbridge/internal/metrics"
)

// DefaultCatchUpWindow bounds how far back reconciliation reaches for a
// conversation with no recorded sync state.
const DefaultCatchUpWindow = 12 * time.Hour

const historyPageLimit = 200

// Reconciler backfills history missed while disconnected. Recovered messages
// run through the same normalization path as live events, so delivery and
// discovery side effects match; dedup beyond the timestamp boundary is left
// to the downstream upsert.
type Reconciler struct {
	api     historyAPI
	norm    *Normalizer
	deliver func(context.Context, domain.Message)
	window  time.Duration
	logger  *slog.Logger

	selfUserID func() string
}

type ReconcilerOptions struct {
	API        historyAPI
	Normalizer *Normalizer
	Deliver    func(context.Context, domain.Message)
	Window     time.Duration
	SelfUserID func() string
	Logger     *slog.Logger
}

func NewReconciler(opts ReconcilerOptions) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := opts.Window
	if window <= 0 {
		window = DefaultCatchUpWindow
	}
	selfFn := opts.SelfUserID
	if selfFn == nil {
		selfFn = func() string { return "" }
	}
	return &Reconciler{
		api:        opts.API,
		norm:       opts.Normalizer,
		deliver:    opts.Deliver,
		window:     window,
		selfUserID: selfFn,
		logger:     logger,
	}
}

// Reconcile backfills each conversation and returns the total number of
// messages recovered. One conversation's failure never aborts the others.
func (r *Reconciler) Reconcile(ctx context.Context, convs []domain.ConversationSync) int {
	total := 0
	for _, cs := range convs {
		n, err := r.reconcileConversation(ctx, cs)
		total += n
		if err != nil {
			r.logger.Warn("catch-up failed", "conversation", cs.ID, "err", err)
		}
	}
	if total > 0 {
		metrics.Collector.Counter("slackbridge_catchup_recovered_total", "Messages recovered by reconciliation", "").Add(int64(total))
		r.logger.Info("catch-up complete", "conversations", len(convs), "recovered", total)
	}
	return total
}

func (r *Reconciler) reconcileConversation(ctx context.Context, cs domain.ConversationSync) (int, error) {
	oldest := cs.LastTimestamp
	if oldest == "" {
		oldest = slackTimestamp(time.Now().Add(-r.window))
	}
	params := &slack.GetConversationHistoryParameters{
		ChannelID: cs.ID,
		Oldest:    oldest,
		Inclusive: false, // the boundary message was already processed
		Limit:     historyPageLimit,
	}
	var msgs []slack.Message
	for {
		resp, err := r.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return 0, fmt.Errorf("history fetch: %w", err)
		}
		msgs = append(msgs, resp.Messages...)
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
	}

	// History arrives newest-first; deliver oldest-first.
	sort.Slice(msgs, func(i, j int) bool { return tsLess(msgs[i].Timestamp, msgs[j].Timestamp) })

	count := 0
	for _, m := range msgs {
		ev, ok := r.eventFromHistory(cs.ID, m)
		if !ok {
			continue
		}
		if msg := r.norm.NormalizeNew(ctx, ev); msg != nil {
			r.deliver(ctx, *msg)
			count++
		}
		if m.ReplyCount > 0 {
			n, err := r.reconcileReplies(ctx, cs.ID, m.Timestamp)
			count += n
			if err != nil {
				r.logger.Warn("thread catch-up failed", "conversation", cs.ID, "thread", m.Timestamp, "err", err)
			}
		}
	}
	return count, nil
}

// reconcileReplies fetches a recovered thread parent's replies, anchoring
// every reply to the parent. The parent itself was already handled.
func (r *Reconciler) reconcileReplies(ctx context.Context, conversationID, parent string) (int, error) {
	params := &slack.GetConversationRepliesParameters{
		ChannelID: conversationID,
		Timestamp: parent,
		Limit:     historyPageLimit,
	}
	count := 0
	for {
		msgs, hasMore, nextCursor, err := r.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return count, fmt.Errorf("replies fetch: %w", err)
		}
		for _, m := range msgs {
			if m.Timestamp == parent {
				continue
			}
			ev, ok := r.eventFromHistory(conversationID, m)
			if !ok {
				continue
			}
			ev.ThreadParent = parent
			if msg := r.norm.NormalizeNew(ctx, ev); msg != nil {
				r.deliver(ctx, *msg)
				count++
			}
		}
		if !hasMore || nextCursor == "" {
			return count, nil
		}
		params.Cursor = nextCursor
	}
}

// eventFromHistory maps a historical message onto the live event shape.
// Bot-authored messages and administrative subtypes are filtered here the
// same way the live path filters them; file shares are retained.
func (r *Reconciler) eventFromHistory(conversationID string, m slack.Message) (domain.NewMessage, bool) {
	self := r.selfUserID()
	if m.BotID != "" || (self != "" && m.User == self) {
		return domain.NewMessage{}, false
	}
	if !deliverableSubtype(m.SubType) {
		return domain.NewMessage{}, false
	}
	parent := ""
	if m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp {
		parent = m.ThreadTimestamp
	}
	return domain.NewMessage{
		ConversationID: conversationID,
		ID:             m.Timestamp,
		SenderID:       m.User,
		BotID:          m.BotID,
		Text:           m.Text,
		ThreadParent:   parent,
		SubType:        m.SubType,
		Mention:        self != "" && strings.Contains(m.Text, "<@"+self+">"),
		HasReplies:     m.ReplyCount > 0,
		Files:          fileRefsFromHistory(m.Files),
	}, true
}

func fileRefsFromHistory(files []slack.File) []domain.FileRef {
	if len(files) == 0 {
		return nil
	}
	out := make([]domain.FileRef, 0, len(files))
	for _, f := range files {
		out = append(out, domain.FileRef{
			ID:          f.ID,
			Name:        f.Name,
			MimeType:    f.Mimetype,
			Size:        int64(f.Size),
			DownloadURL: f.URLPrivateDownload,
		})
	}
	return out
}

// slackTimestamp renders a wall-clock time as a platform timestamp.
func slackTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.000000", t.Unix())
}
