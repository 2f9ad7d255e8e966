package slack

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/slack-go/slack"

	"slackbridge/internal/domain"
)

type fakeAPI struct {
	mu     sync.Mutex
	posted []string // conversation ids, in post order
	order  []string // interleaving of posts and history fetches
	hist   fakeHistory
}

func (a *fakeAPI) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{User: "bridge", UserID: "UBOT", BotID: "BBOT"}, nil
}

func (a *fakeAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	a.mu.Lock()
	a.posted = append(a.posted, channelID)
	a.order = append(a.order, "post")
	a.mu.Unlock()
	return channelID, "1.0", nil
}

func (a *fakeAPI) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	a.mu.Lock()
	a.order = append(a.order, "history")
	a.mu.Unlock()
	return a.hist.GetConversationHistoryContext(ctx, params)
}

func (a *fakeAPI) GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	return a.hist.GetConversationRepliesContext(ctx, params)
}

func (a *fakeAPI) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	return nil, "", nil
}

func (a *fakeAPI) GetUserInfoContext(ctx context.Context, user string) (*slack.User, error) {
	return &slack.User{ID: user, Name: user}, nil
}

func (a *fakeAPI) GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error {
	return nil
}

func (a *fakeAPI) AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	return nil
}

func (a *fakeAPI) RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	return nil
}

func (a *fakeAPI) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	return &slack.FileSummary{ID: "F1"}, nil
}

type fakeStore struct {
	mu     sync.Mutex
	syncTS map[string]string
	names  map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{syncTS: make(map[string]string), names: make(map[string]string)}
}

func (s *fakeStore) LastSyncTimestamp(ctx context.Context, conversationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncTS[conversationID], nil
}

func (s *fakeStore) SetLastSyncTimestamp(ctx context.Context, conversationID, ts string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncTS[conversationID] = ts
	return nil
}

func (s *fakeStore) UpdateConversationName(ctx context.Context, conversationID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[conversationID] = name
	return nil
}

func (s *fakeStore) Conversations(ctx context.Context) ([]domain.ConversationSync, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ConversationSync
	for id, ts := range s.syncTS {
		out = append(out, domain.ConversationSync{ID: id, LastTimestamp: ts})
	}
	return out, nil
}

func newTestAdapter(t *testing.T, reg fakeRegistry) (*Adapter, *fakeAPI, *fakePipeline, *fakeStore) {
	t.Helper()
	api := &fakeAPI{}
	pipe := &fakePipeline{}
	store := newFakeStore()
	a := newAdapter(Options{
		Config:   Config{AttachmentDir: t.TempDir()},
		Registry: reg,
		Pipeline: pipe,
		Store:    store,
	}, api)
	a.selfUserID = "UBOT"
	a.norm.SetSelf("UBOT", "BBOT")
	return a, api, pipe, store
}

func TestOwnsConversationID(t *testing.T) {
	a, _, _, _ := newTestAdapter(t, fakeRegistry{})
	tests := []struct {
		id   string
		want bool
	}{
		{"C0123ABCD", true},
		{"D0123ABCD", true},
		{"G0123ABCDEF", true},
		{"U0123ABCD", false},
		{"C012", false},
		{"c0123abcd", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := a.OwnsConversationID(tt.id); got != tt.want {
			t.Errorf("OwnsConversationID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestSendWhileDisconnectedQueues(t *testing.T) {
	a, api, _, _ := newTestAdapter(t, fakeRegistry{"C1": {}})

	if err := a.Send(context.Background(), "C1", "hello", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.posted) != 0 {
		t.Errorf("posted %d messages while disconnected", len(api.posted))
	}
	if a.outbox.Len() != 1 {
		t.Errorf("queue depth = %d, want 1", a.outbox.Len())
	}
}

func TestSendWhileConnectedPostsImmediately(t *testing.T) {
	a, api, _, _ := newTestAdapter(t, fakeRegistry{"C1": {}})
	a.setState(StateConnected)

	if err := a.Send(context.Background(), "C1", "hello", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.posted) != 1 || api.posted[0] != "C1" {
		t.Errorf("posted = %v, want one post to C1", api.posted)
	}
	if a.outbox.Len() != 0 {
		t.Errorf("queue depth = %d, want 0", a.outbox.Len())
	}
}

func TestSendSplitsLongMessages(t *testing.T) {
	a, api, _, _ := newTestAdapter(t, fakeRegistry{"C1": {}})
	a.setState(StateConnected)

	long := make([]byte, (maxMessageLen-splitSafetyMargin)*2+10)
	for i := range long {
		long[i] = 'a'
	}
	if err := a.Send(context.Background(), "C1", string(long), ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.posted) != 3 {
		t.Errorf("posted %d chunks, want 3", len(api.posted))
	}
}

func TestConnectFlushesQueueBeforeCatchUp(t *testing.T) {
	a, api, _, store := newTestAdapter(t, fakeRegistry{"C1": {}})
	store.syncTS["C1"] = "100.0"

	if err := a.Send(context.Background(), "C1", "queued while down", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	a.setState(StateConnected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.onConnected(ctx)

	if a.outbox.Len() != 0 {
		t.Errorf("queue depth = %d after connect, want 0", a.outbox.Len())
	}
	api.mu.Lock()
	order := append([]string(nil), api.order...)
	api.mu.Unlock()
	if len(order) < 2 || order[0] != "post" {
		t.Fatalf("call order = %v, want the queued post before any history fetch", order)
	}
	for _, call := range order[1:] {
		if call == "post" {
			t.Fatalf("call order = %v, want all posts flushed before catch-up", order)
		}
	}
}

func TestHandleInboundDeliversAndAdvancesSync(t *testing.T) {
	a, _, pipe, store := newTestAdapter(t, fakeRegistry{"C1": {}})
	ctx := context.Background()

	a.handleInbound(ctx, domain.NewMessage{
		ConversationID: "C1", ID: "200.0", SenderID: "U1", Text: "hello",
	})
	if len(pipe.messages) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(pipe.messages))
	}
	if ts := store.syncTS["C1"]; ts != "200.0" {
		t.Errorf("sync timestamp = %q, want 200.0", ts)
	}

	// An edit of an older message must not move the boundary backwards.
	a.handleInbound(ctx, domain.Edit{Message: domain.NewMessage{
		ConversationID: "C1", ID: "100.0", SenderID: "U1", Text: "edited",
	}})
	if ts := store.syncTS["C1"]; ts != "200.0" {
		t.Errorf("sync timestamp regressed to %q", ts)
	}
	if len(pipe.messages) != 2 {
		t.Errorf("delivered %d messages, want the edit too", len(pipe.messages))
	}
}

func TestHandleInboundDelete(t *testing.T) {
	a, _, pipe, _ := newTestAdapter(t, fakeRegistry{"C1": {}})

	a.handleInbound(context.Background(), domain.Delete{
		ConversationID: "C1", ID: "100.0", SenderID: "U1",
	})
	if len(pipe.deleted) != 1 || pipe.deleted[0] != "C1/100.0" {
		t.Errorf("deletions = %v", pipe.deleted)
	}
}

func TestKnownConversationsMergesRegistryAndStore(t *testing.T) {
	a, _, _, store := newTestAdapter(t, fakeRegistry{"C1": {}})
	store.syncTS["C2"] = "150.0"
	store.syncTS["C1"] = "100.0"

	convs := a.knownConversations(context.Background())
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != "C1" || convs[0].LastTimestamp != "100.0" {
		t.Errorf("convs[0] = %+v", convs[0])
	}
	if convs[1].ID != "C2" || convs[1].LastTimestamp != "150.0" {
		t.Errorf("convs[1] = %+v", convs[1])
	}
}
