package bus

import (
	"fmt"
	"testing"

	"slackbridge/internal/domain"
)

func TestOnMessagePublishesAndIndexes(t *testing.T) {
	p := New(4, nil)
	defer p.Close()

	p.OnMessage("C1", domain.Message{ID: "100.1", Content: "hello", ThreadKey: "99.0"})

	select {
	case d := <-p.Messages():
		if d.ConversationID != "C1" || d.Message.Content != "hello" {
			t.Errorf("delivery = %+v", d)
		}
	default:
		t.Fatal("no delivery on the channel")
	}

	stored, ok := p.LookupMessage("C1", "100.1")
	if !ok || stored.Content != "hello" || stored.ThreadKey != "99.0" {
		t.Errorf("lookup = %+v, %v", stored, ok)
	}
}

func TestEditOverwritesIndexEntry(t *testing.T) {
	p := New(4, nil)
	defer p.Close()

	p.OnMessage("C1", domain.Message{ID: "100.1", Content: "first"})
	p.OnMessage("C1", domain.Message{ID: "100.1", Content: "edited"})

	stored, ok := p.LookupMessage("C1", "100.1")
	if !ok || stored.Content != "edited" {
		t.Errorf("lookup after edit = %+v, %v", stored, ok)
	}
}

func TestDeletionRemovesIndexEntry(t *testing.T) {
	p := New(4, nil)
	defer p.Close()

	p.OnMessage("C1", domain.Message{ID: "100.1", Content: "hello"})
	<-p.Messages()
	p.OnMessageDeleted("C1", "100.1")

	if _, ok := p.LookupMessage("C1", "100.1"); ok {
		t.Error("deleted message still in the index")
	}
	select {
	case del := <-p.Deletions():
		if del.ConversationID != "C1" || del.ID != "100.1" {
			t.Errorf("deletion = %+v", del)
		}
	default:
		t.Fatal("no deletion on the channel")
	}
}

func TestIndexEvictsOldestEntries(t *testing.T) {
	p := New(1, nil)
	defer p.Close()
	p.maxIndex = 3

	go func() {
		for range p.Messages() {
		}
	}()
	for i := 0; i < 5; i++ {
		p.OnMessage("C1", domain.Message{ID: fmt.Sprintf("%d.0", i), Content: "m"})
	}

	if _, ok := p.LookupMessage("C1", "0.0"); ok {
		t.Error("oldest entry not evicted")
	}
	if _, ok := p.LookupMessage("C1", "4.0"); !ok {
		t.Error("newest entry missing")
	}
}

func TestConversationSeenHook(t *testing.T) {
	p := New(4, nil)
	defer p.Close()

	var hookConv, hookTS string
	p.OnSeen(func(conversationID, timestamp string) {
		hookConv, hookTS = conversationID, timestamp
	})
	p.OnConversationSeen("C9", "2024-01-01T00:00:00Z")

	if hookConv != "C9" || hookTS != "2024-01-01T00:00:00Z" {
		t.Errorf("hook got (%q, %q)", hookConv, hookTS)
	}
	if ts, ok := p.LastSeen("C9"); !ok || ts != "2024-01-01T00:00:00Z" {
		t.Errorf("LastSeen = (%q, %v)", ts, ok)
	}
}

func TestPublishAfterCloseDoesNotPanic(t *testing.T) {
	p := New(4, nil)
	p.Close()
	p.OnMessage("C1", domain.Message{ID: "100.1", Content: "late"})
}
