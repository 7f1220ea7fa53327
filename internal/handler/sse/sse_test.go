package sse

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_WriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec, "s1")
	require.NoError(t, err)

	require.NoError(t, w.WriteEvent("change", 7, map[string]string{"id": "p1"}))
	require.NoError(t, w.WriteKeepAlive())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "id: 7\nevent: change\ndata: {\"id\":\"p1\"}\n\n: keepalive\n\n", rec.Body.String())
	assert.Equal(t, "s1", w.StreamID())
}

type countingWriter struct {
	n      atomic.Int32
	failAt int32
}

func (c *countingWriter) WriteKeepAlive() error {
	if c.n.Add(1) >= c.failAt {
		return errors.New("client gone")
	}
	return nil
}

func TestTickerKeepAlive_StopsOnWriteFailure(t *testing.T) {
	k := NewTickerKeepAlive(time.Millisecond)
	cw := &countingWriter{failAt: 3}

	stopped := k.Start(cw, slog.New(slog.NewTextHandler(io.Discard, nil)))
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("keep-alive did not stop")
	}
	assert.EqualValues(t, 3, cw.n.Load())
	k.Stop()
	k.Stop()
}

func TestTickerKeepAlive_Stop(t *testing.T) {
	k := NewTickerKeepAlive(time.Hour)
	stopped := k.Start(&countingWriter{failAt: 100}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	k.Stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("keep-alive did not stop")
	}
}
