package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/aura-chat/backend/internal/event"
	"github.com/aura-chat/backend/internal/history"
	"github.com/aura-chat/backend/internal/realtime"
)

type testServer struct {
	*httptest.Server
	hub   *realtime.Hub
	store *history.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := history.NewMemoryStore()
	hub := realtime.NewHub(store, realtime.Options{}, nil)

	r := gin.New()
	r.GET("/history", history.NewHandler(hub, nil).List)
	r.GET("/ws", realtime.ServeWs(hub, realtime.SocketOptions{}, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return &testServer{Server: srv, hub: hub, store: store}
}

func (s *testServer) waitJoined(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.hub.Participants()) == n }, 2*time.Second, 5*time.Millisecond)
}

func recv(t *testing.T, c *Client) event.Event {
	t.Helper()
	select {
	case e, ok := <-c.Events():
		require.True(t, ok, "event stream closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return event.Event{}
}

func requireQuiet(t *testing.T, c *Client) {
	t.Helper()
	select {
	case e := <-c.Events():
		t.Fatalf("unexpected event %v", e)
	case <-time.After(30 * time.Millisecond):
	}
}

func dial(t *testing.T, srv *testServer, name string, cursor int) *Client {
	t.Helper()
	c, err := Dial(context.Background(), srv.URL, name, cursor, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Leave() })
	return c
}

func TestClient_Conversation(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	ctx := context.Background()

	events, cursor, err := FetchHistory(ctx, srv.URL, Options{})
	req.NoError(err)
	req.Empty(events)
	req.Zero(cursor)

	alice := dial(t, srv, "alice", cursor)
	srv.waitJoined(t, 1)
	bob := dial(t, srv, "bob", -1)
	req.Equal(event.Connected("bob"), recv(t, alice))

	req.NoError(bob.Send("   "))
	req.NoError(bob.Send("hi"))
	req.Equal(event.Message("bob", "hi"), recv(t, alice))
	req.Equal(event.Message("bob", "hi"), recv(t, bob))

	req.NoError(bob.Leave())
	req.NoError(bob.Leave())
	req.Equal(event.Disconnected("bob"), recv(t, alice))
	requireQuiet(t, alice)
	req.ErrorIs(bob.Send("late"), ErrClosed)

	events, cursor, err = FetchHistory(ctx, srv.URL, Options{})
	req.NoError(err)
	req.Equal(4, cursor)
	req.Equal([]event.Event{
		event.Connected("alice"),
		event.Connected("bob"),
		event.Message("bob", "hi"),
		event.Disconnected("bob"),
	}, events)
}

func TestClient_DialRejections(t *testing.T) {
	srv := newTestServer(t)
	dial(t, srv, "alice", -1)
	srv.waitJoined(t, 1)

	_, err := Dial(context.Background(), srv.URL, "alice", -1, Options{})
	require.ErrorIs(t, err, ErrUsernameTaken)
	_, err = Dial(context.Background(), srv.URL, "  ", -1, Options{})
	require.ErrorIs(t, err, ErrUsernameRequired)
}

func TestClient_HistoryThenLiveHasNoGap(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.store.Append(ctx, event.Message("system", "one"))
	req.NoError(err)
	past, cursor, err := FetchHistory(ctx, srv.URL, Options{})
	req.NoError(err)
	req.Equal([]event.Event{event.Message("system", "one")}, past)

	_, err = srv.store.Append(ctx, event.Message("system", "two"))
	req.NoError(err)

	carol := dial(t, srv, "carol", cursor)
	req.Equal(event.Message("system", "two"), recv(t, carol))
	requireQuiet(t, carol)
}

func TestClient_ServerShutdownEndsStream(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "alice", -1)
	srv.waitJoined(t, 1)

	srv.hub.Shutdown()
	for range alice.Events() {
	}
	require.NoError(t, alice.Err())
}

func TestSocketURL(t *testing.T) {
	cases := map[string]struct {
		base   string
		cursor int
		want   string
	}{
		"http":        {"http://localhost:8080", 3, "ws://localhost:8080/ws?after=3&username=al+ice"},
		"https":       {"https://chat.example/", -1, "wss://chat.example/ws?username=al+ice"},
		"path prefix": {"http://host/api", 0, "ws://host/api/ws?after=0&username=al+ice"},
		"already ws":  {"ws://host", -1, "ws://host/ws?username=al+ice"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := socketURL(tc.base, "al ice", tc.cursor)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
	_, err := socketURL("ftp://host", "x", 0)
	require.Error(t, err)
}
