package slack

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"slackbridge/internal/domain"
)

func fastPacer() *Pacer {
	return NewPacer(100, 600000)
}

func TestSplitMessageShortTextUntouched(t *testing.T) {
	got := SplitMessage("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("got %v", got)
	}
}

func TestSplitMessagePrefersNewline(t *testing.T) {
	text := "first line\nsecond line\nthird line"
	chunks := SplitMessage(text, 15)
	if chunks[0] != "first line\n" {
		t.Errorf("first chunk = %q, want cut at the newline", chunks[0])
	}
	if strings.Join(chunks, "") != text {
		t.Errorf("chunks do not reassemble: %v", chunks)
	}
}

func TestSplitMessageHardCutWithoutNewline(t *testing.T) {
	text := strings.Repeat("a", 25)
	chunks := SplitMessage(text, 10)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 10 {
			t.Errorf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble")
	}
}

func TestSplitMessageNeverSplitsRunes(t *testing.T) {
	text := strings.Repeat("é", 20) // 2 bytes each
	chunks := SplitMessage(text, 5)
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
		if len(c) > 5 {
			t.Errorf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble")
	}
}

func TestSplitMessageReassembly(t *testing.T) {
	text := strings.Repeat("some words here\nand a few more\n", 50)
	for _, limit := range []int{10, 37, 100, 4000} {
		chunks := SplitMessage(text, limit)
		if strings.Join(chunks, "") != text {
			t.Errorf("limit %d: chunks do not reassemble", limit)
		}
		for i, c := range chunks {
			if len(c) > limit {
				t.Errorf("limit %d: chunk %d has %d bytes", limit, i, len(c))
			}
		}
	}
}

func TestResolveMentionsLongestNameFirst(t *testing.T) {
	index := []NameRef{
		{Name: "Matt Weiss", ID: "U1"},
		{Name: "Matt", ID: "U2"},
	}
	got := ResolveMentions("@Matt Weiss please sync with @Matt", index)
	want := "<@U1> please sync with <@U2>"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveMentionsNoAt(t *testing.T) {
	index := []NameRef{{Name: "Ana", ID: "U1"}}
	if got := ResolveMentions("plain text", index); got != "plain text" {
		t.Errorf("got %q", got)
	}
}

func TestOutboxDrainFIFO(t *testing.T) {
	var sent []string
	o := NewOutbox(func(ctx context.Context, item domain.OutboundItem) error {
		sent = append(sent, item.Text)
		return nil
	}, fastPacer(), nil)

	o.Enqueue(domain.OutboundItem{ConversationID: "C1", Text: "a"})
	o.Enqueue(domain.OutboundItem{ConversationID: "C1", Text: "b"})
	o.Enqueue(domain.OutboundItem{ConversationID: "C1", Text: "c"})
	o.Drain(context.Background())

	if strings.Join(sent, "") != "abc" {
		t.Errorf("sent order = %v, want a b c", sent)
	}
	if o.Len() != 0 {
		t.Errorf("queue depth = %d after drain", o.Len())
	}
}

func TestOutboxRequeuesFailedItemAtBack(t *testing.T) {
	var sent []string
	failedOnce := false
	o := NewOutbox(func(ctx context.Context, item domain.OutboundItem) error {
		if item.Text == "a" && !failedOnce {
			failedOnce = true
			return errors.New("transient")
		}
		sent = append(sent, item.Text)
		return nil
	}, fastPacer(), nil)

	o.Enqueue(domain.OutboundItem{ConversationID: "C1", Text: "a"})
	o.Enqueue(domain.OutboundItem{ConversationID: "C1", Text: "b"})
	o.Drain(context.Background())

	if strings.Join(sent, "") != "ba" {
		t.Errorf("sent order = %v, want b then retried a", sent)
	}
}

func TestOutboxDrainSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	o := NewOutbox(func(ctx context.Context, item domain.OutboundItem) error {
		close(started)
		<-release
		return nil
	}, fastPacer(), nil)

	o.Enqueue(domain.OutboundItem{ConversationID: "C1", Text: "a"})
	go o.Drain(context.Background())
	<-started

	// A second drain while the first is mid-send must return immediately.
	done := make(chan struct{})
	go func() {
		o.Drain(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second Drain blocked behind the first")
	}
	close(release)
}

func TestOutboxCancelKeepsItemAtFront(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// One token available, then the pacer blocks; a cancelled context makes
	// Wait fail before the second item sends.
	pacer := NewPacer(1, 0.0001)
	var sent []string
	o := NewOutbox(func(ctx context.Context, item domain.OutboundItem) error {
		sent = append(sent, item.Text)
		return nil
	}, pacer, nil)

	o.Enqueue(domain.OutboundItem{ConversationID: "C1", Text: "a"})
	o.Enqueue(domain.OutboundItem{ConversationID: "C1", Text: "b"})
	o.Drain(ctx)

	if o.Len() == 0 {
		t.Fatal("cancelled drain lost queued items")
	}
	total := len(sent) + o.Len()
	if total != 2 {
		t.Errorf("items sent + queued = %d, want 2", total)
	}
}
