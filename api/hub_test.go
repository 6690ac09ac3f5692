package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePumpStopsOnWriteError(t *testing.T) {
	srv, _, router := newTestServer(newStaticSource())
	ts := httptest.NewServer(router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()

	cl := &client{conn: conn, send: make(chan []byte, 2)}
	assert.Error(t, cl.write(websocket.TextMessage, []byte(`{}`)))

	cl.send <- []byte(`{"n":1}`)
	cl.send <- []byte(`{"n":2}`)
	done := make(chan struct{})
	go func() {
		cl.writePump()
		close(done)
	}()
	close(cl.send)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writePump kept running after a failed write")
	}
}
