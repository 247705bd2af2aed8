package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/store"
)

func mustEnvelope(t *testing.T, event, conv, actor string, participants []string, data any) bus.Envelope {
	t.Helper()
	env, err := bus.NewEnvelope("gw-1", event, conv, actor, participants, data)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestProjector(t *testing.T) {
	ctx := context.Background()
	counters := store.NewMemoryCounters()
	p := NewProjector(counters)
	members := []string{"u1", "u2", "u3"}
	msg := model.MessageView{ID: "m1", ConversationID: "c1", Sender: model.User{ID: "u1"}, Content: "hi"}

	for i := 0; i < 2; i++ {
		if err := p.Handle(ctx, mustEnvelope(t, bus.EventMessageReceived, "c1", "u1", members, msg)); err != nil {
			t.Fatal(err)
		}
	}
	// typing never touches counters
	if err := p.Handle(ctx, mustEnvelope(t, bus.EventUserTyping, "c1", "u2", nil, map[string]string{})); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		user string
		want int64
	}{
		{"u1", 0},
		{"u2", 2},
		{"u3", 2},
	}
	for _, tt := range tests {
		counts, _ := counters.Counts(ctx, tt.user)
		if counts["c1"] != tt.want {
			t.Errorf("unread for %s = %d, want %d", tt.user, counts["c1"], tt.want)
		}
	}

	receipt := bus.ReadReceipt{ConversationID: "c1", ReadBy: "u2"}
	if err := p.Handle(ctx, mustEnvelope(t, bus.EventMessagesMarkedRead, "c1", "u2", members, receipt)); err != nil {
		t.Fatal(err)
	}
	if counts, _ := counters.Counts(ctx, "u2"); counts["c1"] != 0 {
		t.Errorf("u2 after read = %d", counts["c1"])
	}
	if counts, _ := counters.Counts(ctx, "u3"); counts["c1"] != 2 {
		t.Errorf("u3 should be untouched, got %d", counts["c1"])
	}
}

func TestProjector_Malformed(t *testing.T) {
	p := NewProjector(store.NewMemoryCounters())
	ctx := context.Background()

	if err := p.Handle(ctx, bus.Envelope{Event: bus.EventMessageReceived}); !bus.IsPermanent(err) {
		t.Errorf("message without conversation should fail permanently, got %v", err)
	}
	bad := bus.Envelope{Event: bus.EventMessagesMarkedRead, ConversationID: "c1", Data: []byte(`[`)}
	if err := p.Handle(ctx, bad); !bus.IsPermanent(err) {
		t.Errorf("undecodable receipt should fail permanently, got %v", err)
	}
}

type brokenCounters struct{ store.Counters }

func (brokenCounters) Increment(context.Context, string, string) error { return errors.New("down") }
func (brokenCounters) Reset(context.Context, string, string) error     { return errors.New("down") }

func TestProjector_CounterFailure(t *testing.T) {
	p := NewProjector(brokenCounters{store.NewMemoryCounters()})
	p.backoff = time.Millisecond
	env := mustEnvelope(t, bus.EventMessageReceived, "c1", "u1", []string{"u1", "u2"}, map[string]string{})
	err := p.Handle(context.Background(), env)
	if err == nil {
		t.Fatal("counter failure should be reported")
	}
	if !bus.IsPermanent(err) {
		t.Errorf("partial increment failure should not be replayed: %v", err)
	}

	receipt := bus.ReadReceipt{ConversationID: "c1", ReadBy: "u2"}
	err = p.Handle(context.Background(), mustEnvelope(t, bus.EventMessagesMarkedRead, "c1", "u2", nil, receipt))
	if err == nil || bus.IsPermanent(err) {
		t.Errorf("reset failure should be retryable, got %v", err)
	}
}

// flakyCounters fails the first n increments for each user.
type flakyCounters struct {
	*store.MemoryCounters
	mu    sync.Mutex
	fails map[string]int
}

func (f *flakyCounters) Increment(ctx context.Context, userID, conversationID string) error {
	f.mu.Lock()
	if f.fails[userID] > 0 {
		f.fails[userID]--
		f.mu.Unlock()
		return errors.New("timeout")
	}
	f.mu.Unlock()
	return f.MemoryCounters.Increment(ctx, userID, conversationID)
}

func TestProjector_RetriesEachRecipientOnce(t *testing.T) {
	ctx := context.Background()
	counters := &flakyCounters{MemoryCounters: store.NewMemoryCounters(), fails: map[string]int{"u3": 2}}
	p := NewProjector(counters)
	p.backoff = time.Millisecond

	env := mustEnvelope(t, bus.EventMessageReceived, "c1", "u1", []string{"u1", "u2", "u3"}, map[string]string{})
	if err := p.Handle(ctx, env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	for _, u := range []string{"u2", "u3"} {
		if counts, _ := counters.Counts(ctx, u); counts["c1"] != 1 {
			t.Errorf("unread for %s = %d, want 1", u, counts["c1"])
		}
	}
}
