package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"

	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/config"
	clog "github.com/mahaj/chatcore/pkg/log"
)

type check struct {
	method string
	path   string
	body   any
	want   int
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "u1", "user to act as")
	other := flag.String("with", "u2", "user to open a conversation with")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load("scripts")
	if err != nil {
		clog.L().Fatal().Err(err).Msg("load config")
	}
	clog.Init(cfg.Log)
	logger := clog.L()

	// 1. Mint a token with the shared secret
	token, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).GenerateToken(*userID)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint token")
	}
	fmt.Printf("Token: %s...\n", token[:10])

	// 2. Open a conversation
	var created struct {
		ID           string `json:"_id"`
		Conversation struct {
			ID string `json:"_id"`
		} `json:"conversation"`
	}
	status, body := call(*apiAddr, token, http.MethodPost, "/conversations", map[string]any{"participantIds": []string{*other}})
	if status != http.StatusCreated && status != http.StatusOK {
		logger.Fatal().Int("status", status).Str("body", string(body)).Msg("create conversation")
	}
	json.Unmarshal(body, &created)
	convID := created.ID
	if convID == "" {
		convID = created.Conversation.ID
	}
	logger.Info().Str(clog.FieldConvID, convID).Int("status", status).Msg("conversation ready")

	// 3. Exercise the rest of the surface
	checks := []check{
		{http.MethodPost, "/messages", map[string]string{"conversationId": convID, "content": "hello from verify_api"}, http.StatusCreated},
		{http.MethodGet, "/conversations", nil, http.StatusOK},
		{http.MethodGet, "/conversations/" + convID + "/messages", nil, http.StatusOK},
		{http.MethodPost, "/conversations/" + convID + "/read", nil, http.StatusNoContent},
		{http.MethodGet, "/users", nil, http.StatusOK},
		{http.MethodPost, "/messages", map[string]string{"conversationId": convID, "content": "   "}, http.StatusBadRequest},
	}
	failed := 0
	for _, c := range checks {
		status, body := call(*apiAddr, token, c.method, c.path, c.body)
		ok := status == c.want
		if !ok {
			failed++
		}
		logger.Info().Bool("ok", ok).Int("status", status).Int("want", c.want).Str("path", c.method+" "+c.path).Msg(truncate(body, 120))
	}
	if failed > 0 {
		logger.Fatal().Int("failed", failed).Msg("verification failed")
	}
	logger.Info().Msg("all checks passed")
}

func call(base, token, method, path string, body any) (int, []byte) {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, base+path, r)
	if err != nil {
		clog.L().Fatal().Err(err).Msg("build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		clog.L().Fatal().Err(err).Str("path", path).Msg("request failed")
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
