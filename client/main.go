package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/model"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type client struct {
	api   string
	token string
	conn  *websocket.Conn

	mu   sync.Mutex
	conv string
}

func post(url, token string, body, out any) error {
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func login(apiAddr, userID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := post(apiAddr+"/login", "", map[string]string{"userId": userID}, &resp); err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	return resp.Token, nil
}

// openConversation creates or reuses the conversation with other.
func (c *client) openConversation(other string) (string, error) {
	var raw map[string]json.RawMessage
	if err := post(c.api+"/conversations", c.token, map[string]any{"participantIds": []string{other}}, &raw); err != nil {
		return "", err
	}
	var conv model.ConversationView
	body, ok := raw["conversation"]
	if !ok {
		body, _ = json.Marshal(raw)
	}
	if err := json.Unmarshal(body, &conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

func (c *client) current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

func (c *client) setCurrent(id string) {
	c.mu.Lock()
	c.conv = id
	c.mu.Unlock()
}

func (c *client) send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	out, _ := json.Marshal(frame{Event: event, Data: b})
	return c.conn.WriteMessage(websocket.TextMessage, out)
}

func (c *client) print(f frame) {
	switch f.Event {
	case "message-received":
		var m model.MessageView
		json.Unmarshal(f.Data, &m)
		fmt.Printf("\r[%s] %s: %s\n> ", m.ConversationID, m.Sender.FullName(), m.Content)
	case "notification-message":
		var n struct {
			ConversationID string `json:"conversationId"`
		}
		json.Unmarshal(f.Data, &n)
		if n.ConversationID != c.current() {
			fmt.Printf("\r(new message in %s)\n> ", n.ConversationID)
		}
	case "user-typing", "user-stop-typing":
		var t struct {
			UserID string `json:"userId"`
		}
		json.Unmarshal(f.Data, &t)
		if f.Event == "user-typing" {
			fmt.Printf("\rUser %s is typing...      \n> ", t.UserID)
		}
	case "messages-marked-read":
		var r struct {
			ReadBy string `json:"readBy"`
		}
		json.Unmarshal(f.Data, &r)
		fmt.Printf("\r(read by %s)\n> ", r.ReadBy)
	case "users-online":
		var ids []string
		json.Unmarshal(f.Data, &ids)
		fmt.Printf("\ronline: %s\n> ", strings.Join(ids, ", "))
	case "error":
		fmt.Printf("\rerror: %s\n> ", f.Data)
	default:
		fmt.Printf("\r%s %s\n> ", f.Event, f.Data)
	}
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	convID := flag.String("conv", "", "conversation id to talk in")
	with := flag.String("with", "", "user id to open a conversation with (overrides -conv)")
	flag.Parse()

	clog.Init(clog.Config{Level: "info", Pretty: true, ServiceName: "client"})
	logger := clog.L()

	// 1. Login to get token
	logger.Info().Str(clog.FieldUserID, *userID).Msg("logging in")
	token, err := login(*apiAddr, *userID)
	if err != nil {
		logger.Fatal().Err(err).Msg("login")
	}
	c := &client{api: *apiAddr, token: token, conv: *convID}

	if *with != "" {
		id, err := c.openConversation(*with)
		if err != nil {
			logger.Fatal().Err(err).Msg("open conversation")
		}
		c.setCurrent(id)
	}
	logger.Info().Str(clog.FieldConvID, c.current()).Msg("conversation selected")

	// 2. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		logger.Fatal().Err(err).Str("url", u.String()).Msg("dial")
	}
	defer conn.Close()
	c.conn = conn

	done := make(chan struct{})

	// 3. Start goroutine to read events
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				logger.Info().Err(err).Msg("read")
				return
			}
			var f frame
			if err := json.Unmarshal(message, &f); err != nil {
				fmt.Printf("\rraw: %s\n> ", message)
				continue
			}
			c.print(f)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// 4. Read from stdin and send events
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			conv := map[string]string{"conversationId": c.current()}

			var err error
			switch {
			case text == "":
			case text == "/quit":
				interrupt <- os.Interrupt
				return
			case text == "/typing":
				err = c.send("typing", conv)
			case text == "/stop":
				err = c.send("stop-typing", conv)
			case text == "/read":
				err = c.send("messages-read", conv)
			case text == "/join":
				err = c.send("join-conversations", struct{}{})
			case strings.HasPrefix(text, "/conv "):
				c.setCurrent(strings.TrimSpace(strings.TrimPrefix(text, "/conv ")))
			case strings.HasPrefix(text, "/with "):
				var id string
				if id, err = c.openConversation(strings.TrimSpace(strings.TrimPrefix(text, "/with "))); err == nil {
					c.setCurrent(id)
					err = c.send("join-conversations", struct{}{})
				}
			default:
				if c.current() == "" {
					fmt.Println("no conversation selected, use /conv <id> or /with <user>")
					break
				}
				err = c.send("message-send", map[string]string{"conversationId": c.current(), "content": text})
			}
			if err != nil {
				logger.Warn().Err(err).Msg("command failed")
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			logger.Info().Msg("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logger.Warn().Err(err).Msg("write close")
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
