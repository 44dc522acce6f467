package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]string
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestSenders(t *testing.T) {
	var got captured
	srv := httptest.NewServer(got.handler(http.StatusNoContent))
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, NewTelegramSender(srv.URL, "tok", "42").Send(ctx, "coinfolio", "hello"))
	require.NoError(t, NewDiscordSender(srv.URL+"/hook").Send(ctx, "coinfolio", "hello"))

	require.Len(t, got.bodies, 2)
	assert.Equal(t, "/bottok/sendMessage", got.paths[0])
	assert.Equal(t, "42", got.bodies[0]["chat_id"])
	assert.Equal(t, "*coinfolio*\nhello", got.bodies[0]["text"])
	assert.Equal(t, "/hook", got.paths[1])
	assert.Equal(t, "**coinfolio**\nhello", got.bodies[1]["content"])
}

func TestSender_ErrorStatus(t *testing.T) {
	var got captured
	srv := httptest.NewServer(got.handler(http.StatusBadRequest))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400")
}

type countingSender struct {
	mu sync.Mutex
	n  int
}

func (s *countingSender) Send(context.Context, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return nil
}

func (s *countingSender) Name() string { return "counting" }

func TestNotifier_Cooldown(t *testing.T) {
	s := &countingSender{}
	n := NewNotifier([]Sender{s}, "coinfolio", time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	ctx := context.Background()

	n.Alert(ctx, "dead-lettered a")
	n.Alert(ctx, "dead-lettered a")
	n.Alert(ctx, "dead-lettered b")
	assert.Equal(t, 2, s.n)

	now = now.Add(2 * time.Minute)
	n.Alert(ctx, "dead-lettered a")
	assert.Equal(t, 3, s.n)
}
