package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data := map[string]string{"conversationId": "c1", "userId": "u1"}
	env, err := NewEnvelope("gw-a", EventUserTyping, "c1", "u1", []string{"u1", "u2"}, data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Event != EventUserTyping || got.Origin != "gw-a" || len(got.Participants) != 2 {
		t.Errorf("Decode() = %+v", got)
	}
	var payload map[string]string
	if err := json.Unmarshal(got.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["userId"] != "u1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, in := range []string{`not json`, `{}`, `{"origin":"x"}`} {
		if _, err := Decode([]byte(in)); err == nil {
			t.Errorf("Decode(%q) should fail", in)
		}
	}
}

func TestAccept(t *testing.T) {
	tests := []struct {
		origin, skip string
		want         bool
	}{
		{"gw-a", "gw-a", false},
		{"gw-b", "gw-a", true},
		{"api", "", true},
		{"gw-a", "", true},
	}
	for _, tt := range tests {
		if got := Accept(Envelope{Origin: tt.origin, Event: "x"}, tt.skip); got != tt.want {
			t.Errorf("Accept(%s, skip %q) = %v, want %v", tt.origin, tt.skip, got, tt.want)
		}
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Envelope{Event: "x"}); err != nil {
		t.Error(err)
	}
	if err := p.Close(); err != nil {
		t.Error(err)
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	errDown := errors.New("down")

	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"succeeds first time", 0, errDown, 1, false},
		{"recovers on third", 2, errDown, 3, false},
		{"gives up", 10, errDown, 4, true},
		{"permanent stops at once", 10, Permanent(errDown), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(ctx, 4, time.Millisecond, func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("Retry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	if err == nil || calls != 1 {
		t.Errorf("Retry() = %v after %d calls, want error after 1", err, calls)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad envelope")
	err := Permanent(base)
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Errorf("Permanent(%v) lost its identity: %v", base, err)
	}
	if IsPermanent(base) || Permanent(nil) != nil {
		t.Error("plain errors and nil must not be permanent")
	}
}
