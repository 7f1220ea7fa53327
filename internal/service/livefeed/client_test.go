package livefeed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "conversa/internal/domain/models/discussion"
)

type recordingHandler struct {
	mu          sync.Mutex
	reconnected int
	items       []models.Envelope
}

func (h *recordingHandler) OnReconnected() {
	h.mu.Lock()
	h.reconnected++
	h.mu.Unlock()
}

func (h *recordingHandler) OnItemReceived(env models.Envelope) {
	h.mu.Lock()
	h.items = append(h.items, env)
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() (int, []models.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reconnected, append([]models.Envelope(nil), h.items...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// feedServer sends one frame per connection, then drops the connection
func feedServer(t *testing.T, frames ...string) (*httptest.Server, func() []string) {
	t.Helper()
	upgrader := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

	var mu sync.Mutex
	var handshakes []string
	conns := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for range 2 {
			_, p, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			handshakes = append(handshakes, string(p))
			mu.Unlock()
		}

		mu.Lock()
		i := conns
		conns++
		mu.Unlock()

		if i < len(frames) {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frames[i]))
		}
		if i < len(frames)-1 {
			return
		}
		// last connection stays open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), handshakes...)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_DeliversItemsAndSignalsReconnect(t *testing.T) {
	srv, handshakes := feedServer(t,
		`[{"@type":"AssemblPost","@id":"m1","body":"hi"},{"@type":"Idea","@id":"i1"}]`,
		`{"@type":"AssemblPost","@id":"m1","@tombstone":true}`,
	)

	h := &recordingHandler{}
	c := New(Config{
		URL:               wsURL(srv),
		DiscussionID:      "7",
		Token:             "secret",
		ReconnectInterval: 5 * time.Millisecond,
	}, h, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, items := h.snapshot()
		return len(items) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	reconnected, items := h.snapshot()
	assert.Equal(t, 1, reconnected, "only the second connection is a reconnect")
	assert.Equal(t, int64(2), c.Connections())
	assert.Equal(t, int64(3), c.Items())

	assert.Equal(t, "m1", items[0].ID)
	assert.Equal(t, "AssemblPost", items[0].Type)
	assert.JSONEq(t, `{"@type":"AssemblPost","@id":"m1","body":"hi"}`, string(items[0].Raw))
	assert.Equal(t, "i1", items[1].ID)
	assert.True(t, items[2].Tombstone)

	assert.Equal(t, []string{"token:secret", "discussion:7"}, handshakes()[:2])
}

func TestClient_StopsWhenCancelledBeforeConnecting(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/unreachable", ReconnectInterval: time.Hour}, &recordingHandler{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int64(0), c.Connections())
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantIDs []string
		wantErr bool
	}{
		{name: "array", frame: `[{"@type":"Post","@id":"a"},{"@type":"Post","@id":"b"}]`, wantIDs: []string{"a", "b"}},
		{name: "single object", frame: `{"@type":"Extract","@id":"x"}`, wantIDs: []string{"x"}},
		{name: "skips items without identity", frame: `[{"@type":"Post"},{"@id":"c"},42,{"@type":"Post","@id":"d"}]`, wantIDs: []string{"d"}},
		{name: "empty array", frame: `[]`, wantIDs: []string{}},
		{name: "scalar", frame: `"hello"`, wantErr: true},
		{name: "garbage", frame: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs, err := DecodeFrame([]byte(tt.frame))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got := make([]string, len(envs))
			for i, env := range envs {
				got[i] = env.ID
				assert.NotEmpty(t, env.Raw)
			}
			assert.Equal(t, tt.wantIDs, got)
		})
	}
}
