package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"slackbridge/internal/domain"
	"slackbridge/internal/metrics"
)

// ConnState tracks the transport lifecycle:
// Disconnected → Connecting → Connected → Disconnected → ...
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds the adapter's tunables. Zero values fall back to defaults.
type Config struct {
	BotToken string
	AppToken string

	AttachmentDir     string
	MaxFileSize       int64
	FileTTL           time.Duration
	SweepInterval     time.Duration
	SendRatePerMinute float64
	SendBurst         int
	CatchUpWindow     time.Duration
	MetadataRefresh   time.Duration
}

// Options wires the adapter to its collaborators.
type Options struct {
	Config   Config
	Registry domain.Registry
	Pipeline domain.Pipeline
	Store    domain.MetadataStore
	Logger   *slog.Logger
}

// Adapter owns the connection lifecycle and wires the normalizer, outbound
// queue, reconciler, identity cache and file fetcher together.
type Adapter struct {
	cfg      Config
	logger   *slog.Logger
	registry domain.Registry
	pipeline domain.Pipeline
	store    domain.MetadataStore

	client *slack.Client
	api    API
	socket *socketmode.Client

	identity   *IdentityCache
	files      *FileFetcher
	norm       *Normalizer
	outbox     *Outbox
	reconciler *Reconciler

	state atomic.Int32

	// Set during Connect, before the event loop starts.
	selfUserID string
	selfBotID  string

	mu           sync.Mutex
	runCtx       context.Context
	cancel       context.CancelFunc
	refreshArmed bool
	lastMetaSync time.Time
	lastSync     map[string]string
}

// New builds an adapter around a real Slack client. Missing credentials are
// a configuration failure and fatal here; no other error in the adapter's
// steady state escapes to the caller.
func New(opts Options) (*Adapter, error) {
	if opts.Config.BotToken == "" {
		return nil, errors.New("slack: bot token is required")
	}
	if opts.Config.AppToken == "" {
		return nil, errors.New("slack: app token is required")
	}
	if opts.Registry == nil || opts.Pipeline == nil || opts.Store == nil {
		return nil, errors.New("slack: registry, pipeline and store are required")
	}
	client := slack.New(opts.Config.BotToken, slack.OptionAppLevelToken(opts.Config.AppToken))
	a := newAdapter(opts, client)
	a.client = client
	return a, nil
}

// newAdapter wires components around an API implementation. Split from New
// so tests can inject a fake client.
func newAdapter(opts Options, api API) *Adapter {
	cfg := opts.Config
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.FileTTL <= 0 {
		cfg.FileTTL = DefaultFileTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.SendRatePerMinute <= 0 {
		cfg.SendRatePerMinute = 60
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	if cfg.CatchUpWindow <= 0 {
		cfg.CatchUpWindow = DefaultCatchUpWindow
	}
	if cfg.MetadataRefresh <= 0 {
		cfg.MetadataRefresh = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		cfg:      cfg,
		logger:   logger,
		registry: opts.Registry,
		pipeline: opts.Pipeline,
		store:    opts.Store,
		api:      api,
		lastSync: make(map[string]string),
	}
	a.identity = NewIdentityCache(api, logger)
	a.files = NewFileFetcher(FileFetcherOptions{
		API:     api,
		BaseDir: cfg.AttachmentDir,
		MaxSize: cfg.MaxFileSize,
		TTL:     cfg.FileTTL,
		Logger:  logger,
	})
	a.norm = NewNormalizer(NormalizerOptions{
		Identity: a.identity,
		Files:    a.files,
		Registry: opts.Registry,
		Pipeline: opts.Pipeline,
		History:  api,
		Logger:   logger,
	})
	a.outbox = NewOutbox(a.deliverOutbound, NewPacer(cfg.SendBurst, cfg.SendRatePerMinute), logger)
	a.reconciler = NewReconciler(ReconcilerOptions{
		API:        api,
		Normalizer: a.norm,
		Deliver:    a.deliverRecovered,
		Window:     cfg.CatchUpWindow,
		SelfUserID: func() string { return a.selfUserID },
		Logger:     logger,
	})
	return a
}

// State returns the current connection state.
func (a *Adapter) State() ConnState {
	return ConnState(a.state.Load())
}

func (a *Adapter) setState(s ConnState) {
	prev := ConnState(a.state.Swap(int32(s)))
	if prev != s {
		a.logger.Info("connection state", "from", prev.String(), "to", s.String())
	}
}

// Connect authenticates and starts the Socket Mode event loop. The socket
// client reconnects on its own after transport failures; each successful
// (re)connection triggers a drain, a catch-up pass, and the periodic
// metadata refresh.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return errors.New("slack: already connected")
	}
	a.mu.Unlock()

	a.setState(StateConnecting)
	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		a.setState(StateDisconnected)
		return fmt.Errorf("slack auth: %w", err)
	}
	a.selfUserID = auth.UserID
	a.selfBotID = auth.BotID
	a.norm.SetSelf(auth.UserID, auth.BotID)
	a.logger.Info("authenticated", "user", auth.User, "user_id", auth.UserID)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Lock()
	a.runCtx = runCtx
	a.cancel = cancel
	a.mu.Unlock()

	a.socket = socketmode.New(a.client)
	go a.eventLoop(runCtx)
	go func() {
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			a.logger.Error("socket mode terminated", "err", err)
		}
		a.setState(StateDisconnected)
	}()
	go a.files.RunSweeper(runCtx, a.cfg.SweepInterval)
	return nil
}

// Disconnect stops the event loop and all background work. Queued outbound
// items stay buffered for the next Connect.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.runCtx = nil
	a.refreshArmed = false
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.setState(StateDisconnected)
	return nil
}

func (a *Adapter) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, evt)
		}
	}
}

func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		a.setState(StateConnecting)
	case socketmode.EventTypeConnected:
		a.setState(StateConnected)
		go a.onConnected(ctx)
	case socketmode.EventTypeConnectionError, socketmode.EventTypeDisconnect:
		a.setState(StateDisconnected)
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(ctx, apiEvent)
	default:
		// Unhandled event types still need an ack or Socket Mode drops the
		// connection.
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
	}
}

// onConnected runs the post-connect sequence: flush the queued backlog,
// then backfill missed history, then arm the periodic refresh. The drain
// completes before catch-up starts so queued replies land before recovered
// history triggers new work. Failures here are logged per item or
// conversation and never demote the connection state.
func (a *Adapter) onConnected(ctx context.Context) {
	a.outbox.Drain(ctx)
	a.Reconcile(ctx)
	a.armRefresh(ctx)
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleInbound(ctx, translateMessageEvent(ev, a.selfUserID))
	case *slackevents.ReactionAddedEvent:
		a.handleInbound(ctx, translateReactionAdded(ev))
	case *slackevents.ReactionRemovedEvent:
		a.handleInbound(ctx, translateReactionRemoved(ev))
	case *slackevents.AppMentionEvent:
		// Mentions also arrive as message events; handling both would
		// double-deliver.
	}
}

// handleInbound routes a tagged inbound event through the normalizer and
// delivers the result. Exhaustive over the event variants.
func (a *Adapter) handleInbound(ctx context.Context, ev domain.InboundEvent) {
	switch ev := ev.(type) {
	case domain.NewMessage:
		a.recordSync(ctx, ev.ConversationID, ev.ID)
		if msg := a.norm.NormalizeNew(ctx, ev); msg != nil {
			a.deliver(msg.ConversationID, *msg)
		}
	case domain.Edit:
		a.recordSync(ctx, ev.Message.ConversationID, ev.Message.ID)
		if msg := a.norm.NormalizeEdit(ctx, ev); msg != nil {
			a.deliver(msg.ConversationID, *msg)
		}
	case domain.Delete:
		if conv, id, ok := a.norm.NormalizeDelete(ev); ok {
			a.pipeline.OnMessageDeleted(conv, id)
		}
	case domain.Reaction:
		a.recordSync(ctx, ev.ConversationID, ev.EventID)
		if msg := a.norm.NormalizeReaction(ctx, ev); msg != nil {
			a.deliver(msg.ConversationID, *msg)
		}
	case nil:
	}
}

func (a *Adapter) deliver(conversationID string, msg domain.Message) {
	a.pipeline.OnMessage(conversationID, msg)
	metrics.Collector.Counter("slackbridge_messages_delivered_total", "Canonical messages delivered downstream", "").Inc()
}

func (a *Adapter) deliverRecovered(ctx context.Context, msg domain.Message) {
	a.deliver(msg.ConversationID, msg)
	a.recordSync(ctx, msg.ConversationID, msg.ID)
}

// recordSync advances the per-conversation sync timestamp, never moving it
// backwards. Live events and catch-up both funnel through here.
func (a *Adapter) recordSync(ctx context.Context, conversationID, ts string) {
	if conversationID == "" || ts == "" {
		return
	}
	a.mu.Lock()
	cur, ok := a.lastSync[conversationID]
	if !ok && a.store != nil {
		if stored, err := a.store.LastSyncTimestamp(ctx, conversationID); err == nil && stored != "" {
			cur, ok = stored, true
		}
	}
	if ok && !tsLess(cur, ts) {
		a.mu.Unlock()
		return
	}
	a.lastSync[conversationID] = ts
	a.mu.Unlock()

	if err := a.store.SetLastSyncTimestamp(ctx, conversationID, ts); err != nil {
		a.logger.Warn("sync timestamp update failed", "conversation", conversationID, "err", err)
	}
}

// Send delivers text to a conversation, or queues it when the adapter is
// disconnected. Transient failures are absorbed into the retry queue and
// never surfaced to the caller as hard errors.
func (a *Adapter) Send(ctx context.Context, conversationID, text, threadKey string) error {
	if conversationID == "" {
		return errors.New("slack: conversation id is required")
	}
	item := domain.OutboundItem{ConversationID: conversationID, Text: text, ThreadKey: threadKey}
	if a.State() != StateConnected {
		a.outbox.Enqueue(item)
		return nil
	}
	if err := a.deliverOutbound(ctx, item); err != nil {
		a.logger.Warn("send failed, queued for retry", "conversation", conversationID, "err", err)
		a.outbox.Enqueue(item)
		a.triggerDrain()
		return nil
	}
	metrics.Collector.Counter("slackbridge_outbound_sent_total", "Outbound messages delivered", "").Inc()
	return nil
}

func (a *Adapter) triggerDrain() {
	a.mu.Lock()
	runCtx := a.runCtx
	a.mu.Unlock()
	if runCtx != nil {
		go a.outbox.Drain(runCtx)
	}
}

// deliverOutbound resolves mention tokens, splits the text into chunks under
// the platform limit, and sends them strictly in order. Any chunk failure
// fails the whole logical message, so the retry re-resolves and re-chunks.
func (a *Adapter) deliverOutbound(ctx context.Context, item domain.OutboundItem) error {
	text := ResolveMentions(item.Text, a.identity.ReverseIndex())
	chunks := SplitMessage(text, maxMessageLen-splitSafetyMargin)
	for _, chunk := range chunks {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if item.ThreadKey != "" {
			opts = append(opts, slack.MsgOptionTS(item.ThreadKey))
		}
		if _, _, err := a.api.PostMessageContext(ctx, item.ConversationID, opts...); err != nil {
			return fmt.Errorf("post message: %w", err)
		}
	}
	return nil
}

// AddReaction adds an emoji reaction to a message.
func (a *Adapter) AddReaction(ctx context.Context, conversationID, emoji, eventID string) error {
	if err := a.api.AddReactionContext(ctx, emoji, slack.NewRefToMessage(conversationID, eventID)); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// RemoveReaction removes an emoji reaction from a message.
func (a *Adapter) RemoveReaction(ctx context.Context, conversationID, emoji, eventID string) error {
	if err := a.api.RemoveReactionContext(ctx, emoji, slack.NewRefToMessage(conversationID, eventID)); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// SendFile uploads a local file to a conversation. File sends are not
// queued: a transport failure is returned to the caller to retry.
func (a *Adapter) SendFile(ctx context.Context, conversationID, path, filename, title, comment, threadKey string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat upload: %w", err)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	_, err = a.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:         conversationID,
		File:            path,
		FileSize:        int(info.Size()),
		Filename:        filename,
		Title:           title,
		InitialComment:  comment,
		ThreadTimestamp: threadKey,
	})
	if err != nil {
		return fmt.Errorf("upload file: %w", err)
	}
	return nil
}

var conversationIDPattern = regexp.MustCompile(`^[CDG][A-Z0-9]{7,}$`)

// OwnsConversationID reports whether id looks like a conversation id on this
// platform, so a multi-adapter host can route by format.
func (a *Adapter) OwnsConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// Reconcile backfills every known conversation and returns the number of
// messages recovered.
func (a *Adapter) Reconcile(ctx context.Context) int {
	return a.reconciler.Reconcile(ctx, a.knownConversations(ctx))
}

// knownConversations merges registered conversations with every conversation
// the store has sync state for.
func (a *Adapter) knownConversations(ctx context.Context) []domain.ConversationSync {
	seen := make(map[string]bool)
	var out []domain.ConversationSync
	for id := range a.registry.Registered() {
		ts, err := a.store.LastSyncTimestamp(ctx, id)
		if err != nil {
			a.logger.Warn("sync timestamp read failed", "conversation", id, "err", err)
		}
		out = append(out, domain.ConversationSync{ID: id, LastTimestamp: ts})
		seen[id] = true
	}
	stored, err := a.store.Conversations(ctx)
	if err != nil {
		a.logger.Warn("conversation listing failed", "err", err)
	}
	for _, cs := range stored {
		if !seen[cs.ID] {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SyncMetadata refreshes conversation names in the metadata store. Unless
// forced, it runs at most once per refresh interval.
func (a *Adapter) SyncMetadata(ctx context.Context, force bool) error {
	a.mu.Lock()
	if !force && time.Since(a.lastMetaSync) < a.cfg.MetadataRefresh {
		a.mu.Unlock()
		return nil
	}
	a.lastMetaSync = time.Now()
	a.mu.Unlock()

	cursor := ""
	for {
		channels, next, err := a.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Limit:           historyPageLimit,
			Cursor:          cursor,
			ExcludeArchived: true,
			Types:           []string{"public_channel", "private_channel", "im", "mpim"},
		})
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		for _, ch := range channels {
			if err := a.store.UpdateConversationName(ctx, ch.ID, ch.Name); err != nil {
				a.logger.Warn("conversation name update failed", "conversation", ch.ID, "err", err)
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// armRefresh starts the periodic metadata refresh once per connection.
func (a *Adapter) armRefresh(ctx context.Context) {
	a.mu.Lock()
	if a.refreshArmed {
		a.mu.Unlock()
		return
	}
	a.refreshArmed = true
	a.mu.Unlock()

	go func() {
		t := time.NewTicker(a.cfg.MetadataRefresh)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := a.SyncMetadata(ctx, false); err != nil {
					a.logger.Warn("metadata refresh failed", "err", err)
				}
			}
		}
	}()
}
