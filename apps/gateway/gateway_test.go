package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/config"
	"github.com/mahaj/chatcore/pkg/directory"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/presence"
	"github.com/mahaj/chatcore/pkg/snowflake"
	"github.com/mahaj/chatcore/pkg/store"
)

type testEnv struct {
	server *httptest.Server
	svc    *chat.Service
	signer *auth.Signer
	reg    *presence.Registry
}

func newTestEnv(t *testing.T, ws config.WebSocketConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatal(err)
	}
	users := directory.NewStatic(
		model.User{ID: "u1", Username: "alice", FirstName: "Alice"},
		model.User{ID: "u2", Username: "bob", FirstName: "Bob"},
		model.User{ID: "u3", Username: "carol", FirstName: "Carol"},
	)
	svc := chat.NewService(store.NewMemory(node), users, chat.WithMaxContentLength(100))
	signer := auth.NewSigner("test-secret", time.Hour)

	reg := presence.NewRegistry()
	hub := NewHub(reg)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	gw := NewGateway(hub, svc, auth.NewAuthenticator(signer, users), nil, "test-gw", ws)
	srv := httptest.NewServer(gw.Router("test"))
	t.Cleanup(func() {
		cancel()
		<-hub.stopped
		srv.Close()
	})
	return &testEnv{server: srv, svc: svc, signer: signer, reg: reg}
}

func defaultWS() config.WebSocketConfig {
	return config.WebSocketConfig{
		WriteWait:      5 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
	}
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	tok, err := e.signer.GenerateToken(userID)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + tok}})
	if err != nil {
		t.Fatalf("dial as %s: %v (resp %v)", userID, err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	b, err := encodeFrame(event, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// expect reads frames until event arrives, skipping presence updates and
// anything else.
func expect(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("bad frame %s", b)
		}
		if f.Event == event {
			return f
		}
	}
}

// expectSilence fails if anything other than a presence update arrives
// within d. The read deadline leaves conn unusable afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("bad frame %s", b)
		}
		if f.Event != EventUsersOnline {
			t.Fatalf("unexpected %s frame: %s", f.Event, f.Data)
		}
	}
}

// expectOnline waits for a users-online frame listing every id in want.
func expectOnline(t *testing.T, conn *websocket.Conn, want ...string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		f := expect(t, conn, EventUsersOnline)
		var online []string
		json.Unmarshal(f.Data, &online)
		if containsAll(online, want) {
			return
		}
	}
	t.Fatalf("never saw %v online", want)
}

func containsAll(have, want []string) bool {
	set := map[string]bool{}
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func expectError(t *testing.T, conn *websocket.Conn, code chat.Code) {
	t.Helper()
	f := expect(t, conn, EventError)
	var p errorPayload
	json.Unmarshal(f.Data, &p)
	if p.Code != code {
		t.Errorf("error code = %s (%s), want %s", p.Code, p.Message, code)
	}
}

func TestGateway_EndToEnd(t *testing.T) {
	e := newTestEnv(t, defaultWS())
	ctx := context.Background()

	conv, _, err := e.svc.CreateConversation(ctx, "u1", []string{"u2"}, "")
	if err != nil {
		t.Fatal(err)
	}

	a := e.dial(t, "u1")
	expectOnline(t, a, "u1")
	b := e.dial(t, "u2")
	expectOnline(t, b, "u1", "u2")
	expectOnline(t, a, "u1", "u2")

	send(t, a, EventMessageSend, conversationPayload{ConversationID: conv.ID, Content: "hello"})

	f := expect(t, b, EventMessageReceived)
	var got model.MessageView
	if err := json.Unmarshal(f.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Content != "hello" || got.Sender.ID != "u1" || got.Sender.FirstName != "Alice" || got.ConversationID != conv.ID {
		t.Errorf("message-received = %+v", got)
	}
	f = expect(t, b, EventNotificationMessage)
	var note notificationPayload
	json.Unmarshal(f.Data, &note)
	if note.ConversationID != conv.ID {
		t.Errorf("notification = %+v", note)
	}
	// the sender's own connection sees the persisted message too
	expect(t, a, EventMessageReceived)

	// typing goes to the other side only, repeats are fine
	send(t, b, EventTyping, conversationPayload{ConversationID: conv.ID})
	send(t, b, "user:typing", conversationPayload{ConversationID: conv.ID})
	for i := 0; i < 2; i++ {
		f = expect(t, a, EventUserTyping)
		var tp typingPayload
		json.Unmarshal(f.Data, &tp)
		if tp.UserID != "u2" || tp.ConversationID != conv.ID {
			t.Errorf("user-typing = %+v", tp)
		}
	}
	send(t, b, EventStopTyping, conversationPayload{ConversationID: conv.ID})
	expect(t, a, EventUserStopTyping)

	send(t, b, EventMessagesRead, conversationPayload{ConversationID: conv.ID})
	f = expect(t, a, EventMessagesMarkedRead)
	var rp bus.ReadReceipt
	json.Unmarshal(f.Data, &rp)
	if rp.ReadBy != "u2" || rp.ConversationID != conv.ID {
		t.Errorf("messages-marked-read = %+v", rp)
	}

	msgs, err := e.svc.GetMessages(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !msgs[0].Read {
		t.Errorf("after read receipt messages = %+v", msgs)
	}
}

func TestGateway_Errors(t *testing.T) {
	e := newTestEnv(t, defaultWS())
	conv, _, err := e.svc.CreateConversation(context.Background(), "u1", []string{"u2"}, "")
	if err != nil {
		t.Fatal(err)
	}

	// u2 is a participant and joins the room on connect
	b := e.dial(t, "u2")
	expectOnline(t, b, "u2")

	c := e.dial(t, "u3")
	expectOnline(t, c, "u3")

	send(t, c, EventMessageSend, conversationPayload{ConversationID: conv.ID, Content: "let me in"})
	expectError(t, c, chat.CodeAccessDenied)

	send(t, c, EventMessagesRead, conversationPayload{ConversationID: conv.ID})
	expectError(t, c, chat.CodeAccessDenied)

	send(t, c, EventMessageSend, conversationPayload{ConversationID: "missing", Content: "x"})
	expectError(t, c, chat.CodeNotFound)

	send(t, c, "fly", nil)
	expectError(t, c, chat.CodeBadRequest)

	if err := c.WriteMessage(websocket.TextMessage, []byte("plain text")); err != nil {
		t.Fatal(err)
	}
	expectError(t, c, chat.CodeBadRequest)

	a := e.dial(t, "u1")
	expectOnline(t, a, "u1")
	send(t, a, "message:send", conversationPayload{ConversationID: conv.ID, Content: "   "})
	expectError(t, a, chat.CodeInvalidContent)

	msgs, _ := e.svc.GetMessages(context.Background(), conv.ID, "u1")
	if len(msgs) != 0 {
		t.Errorf("failed sends persisted %d messages", len(msgs))
	}

	// rejected sends and reads never reach the other participant
	expectSilence(t, b, 300*time.Millisecond)
}

func TestGateway_JoinAfterCreate(t *testing.T) {
	e := newTestEnv(t, defaultWS())
	b := e.dial(t, "u2")
	expectOnline(t, b, "u2")

	// conversation created after b connected
	conv, _, err := e.svc.CreateConversation(context.Background(), "u1", []string{"u2"}, "")
	if err != nil {
		t.Fatal(err)
	}
	a := e.dial(t, "u1")
	expectOnline(t, a, "u1", "u2")

	send(t, b, "join:conversations", nil)
	// typing from b is only relayed once b is in the room
	send(t, b, EventTyping, conversationPayload{ConversationID: conv.ID})
	expect(t, a, EventUserTyping)
}

func TestGateway_Handshake(t *testing.T) {
	e := newTestEnv(t, defaultWS())
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"

	ghost, _ := e.signer.GenerateToken("ghost")
	tests := []struct {
		name   string
		header http.Header
		query  string
	}{
		{"no token", nil, ""},
		{"garbage", http.Header{"Authorization": {"Bearer nope"}}, ""},
		{"unknown user", http.Header{"Authorization": {"Bearer " + ghost}}, ""},
		{"bad query token", nil, "?token=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(url+tt.query, tt.header)
			if err == nil {
				t.Fatal("handshake should fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("resp = %v, want 401", resp)
			}
		})
	}

	tok, _ := e.signer.GenerateToken("u1")
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+tok, nil)
	if err != nil {
		t.Fatalf("query token rejected: %v", err)
	}
	defer conn.Close()
	expectOnline(t, conn, "u1")
}

func TestGateway_PresenceMultipleTabs(t *testing.T) {
	e := newTestEnv(t, defaultWS())
	watcher := e.dial(t, "u3")
	expectOnline(t, watcher, "u3")

	tab1 := e.dial(t, "u1")
	expectOnline(t, watcher, "u1", "u3")
	tab2 := e.dial(t, "u1")
	expectOnline(t, tab2, "u1")

	tab1.Close()
	// wait for the hub to see the close
	deadline := time.Now().Add(2 * time.Second)
	for len(e.reg.Connections("u1")) != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !e.reg.IsOnline("u1") {
		t.Fatal("u1 should stay online with a second tab open")
	}

	tab2.Close()
	for e.reg.IsOnline("u1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if e.reg.IsOnline("u1") {
		t.Error("u1 should be offline after every tab closed")
	}
}

func TestGateway_RateLimit(t *testing.T) {
	ws := defaultWS()
	ws.EventsPerSec = 0.001
	ws.EventBurst = 1
	e := newTestEnv(t, ws)
	c := e.dial(t, "u1")
	expectOnline(t, c, "u1")

	send(t, c, "fly", nil)
	expectError(t, c, chat.CodeBadRequest)
	send(t, c, "fly", nil)
	expectError(t, c, chat.CodeRateLimited)
}

func TestGateway_Healthz(t *testing.T) {
	e := newTestEnv(t, defaultWS())
	resp, err := http.Get(e.server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
