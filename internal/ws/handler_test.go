package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/arogya/internal/agent"
	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu       sync.Mutex
	requests []agent.ChatRequest
	err      error
}

func (f *fakeProcessor) Chat(_ context.Context, req agent.ChatRequest) (*agent.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	sid := req.SessionID
	if sid == "" {
		sid = "s-1"
	}
	return &agent.ChatResponse{Response: "reply to " + req.Message, SessionID: sid}, nil
}

func (f *fakeProcessor) Sessions(context.Context, string) ([]*domain.ChatSession, error) {
	return nil, nil
}

func (f *fakeProcessor) Messages(context.Context, string, string) ([]*domain.ChatMessage, error) {
	return nil, nil
}

func (f *fakeProcessor) Close() {}

func (f *fakeProcessor) snapshot() []agent.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.ChatRequest(nil), f.requests...)
}

const testSecret = "0123456789abcdef0123456789abcdef"

func newServer(t *testing.T, chat agent.Processor, registry *Registry) (*httptest.Server, *identity.Tokens) {
	t.Helper()
	tokens := identity.NewTokens(testSecret, time.Hour)
	srv := httptest.NewServer(identity.Middleware(tokens)(NewHandler(chat, registry, "", true)))
	t.Cleanup(srv.Close)
	return srv, tokens
}

func dial(t *testing.T, srv *httptest.Server, tokens *identity.Tokens, userID, query string) *websocket.Conn {
	t.Helper()
	tok, _, err := tokens.Issue(userID, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat" + query
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, in interface{}) outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, in))
	var out outbound
	require.NoError(t, wsjson.Read(ctx, conn, &out))
	return out
}

func TestChatOverWebSocket(t *testing.T) {
	chat := &fakeProcessor{}
	srv, tokens := newServer(t, chat, nil)
	conn := dial(t, srv, tokens, "user-1", "")

	out := roundTrip(t, conn, inbound{Type: "chat", Message: "fever"})
	assert.Equal(t, "response", out.Type)
	assert.Equal(t, "reply to fever", out.Response)
	assert.Equal(t, "s-1", out.SessionID)

	// The session carries over to the next message.
	out = roundTrip(t, conn, inbound{Type: "chat", Message: "cough"})
	assert.Equal(t, "s-1", out.SessionID)

	reqs := chat.snapshot()
	require.Len(t, reqs, 2)
	assert.Equal(t, "", reqs[0].SessionID)
	assert.Equal(t, "s-1", reqs[1].SessionID)
	assert.Equal(t, "user-1", reqs[1].UserID)
	assert.Equal(t, agent.ChannelWebSocket, reqs[1].Channel)
}

func TestPlainTextFrame(t *testing.T) {
	chat := &fakeProcessor{}
	srv, tokens := newServer(t, chat, nil)
	conn := dial(t, srv, tokens, "user-1", "?session_id=s-9")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("tulsi")))
	var out outbound
	require.NoError(t, wsjson.Read(ctx, conn, &out))
	assert.Equal(t, "reply to tulsi", out.Response)
	assert.Equal(t, "s-9", out.SessionID)
}

func TestPingAndErrors(t *testing.T) {
	chat := &fakeProcessor{}
	srv, tokens := newServer(t, chat, nil)
	conn := dial(t, srv, tokens, "user-1", "")

	assert.Equal(t, "pong", roundTrip(t, conn, inbound{Type: "ping"}).Type)

	out := roundTrip(t, conn, inbound{Type: "chat", Message: "  "})
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, http.StatusBadRequest, out.Status)
	assert.Equal(t, "No message provided", out.Error)

	out = roundTrip(t, conn, inbound{Type: "resize"})
	assert.Equal(t, http.StatusBadRequest, out.Status)

	chat.mu.Lock()
	chat.err = agent.ErrRateLimited
	chat.mu.Unlock()
	out = roundTrip(t, conn, inbound{Type: "chat", Message: "fever"})
	assert.Equal(t, http.StatusTooManyRequests, out.Status)
}

func TestRejectsAnonymous(t *testing.T) {
	srv, _ := newServer(t, &fakeProcessor{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(&fakeProcessor{}, nil, "https://arogya.example.com", false)

	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	req.Header.Set("Origin", "https://arogya.example.com")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, h.checkOrigin(req))
}

func TestRegistryTracksConnections(t *testing.T) {
	registry := NewRegistry()
	srv, tokens := newServer(t, &fakeProcessor{}, registry)
	conn := dial(t, srv, tokens, "user-1", "?tab=tab-1")

	// A round trip guarantees the server side has registered.
	roundTrip(t, conn, inbound{Type: "ping"})
	assert.NotNil(t, registry.Get("user-1", "tab-1"))
	assert.Equal(t, 1, registry.Count("user-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		errc <- err
	}()

	registry.CloseUser("user-1")
	assert.Equal(t, 0, registry.Count("user-1"))
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(<-errc))
}

func TestRegistryUnregisterStale(t *testing.T) {
	m := NewRegistry()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	m.Register("user123", "tab-1", conn1)
	m.Register("user123", "tab-2", conn2)

	// Unregistering with a stale conn keeps the current one.
	m.Unregister("user123", "tab-2", conn1)
	assert.Equal(t, conn2, m.Get("user123", "tab-2"))

	m.Unregister("user123", "tab-1", conn1)
	assert.Nil(t, m.Get("user123", "tab-1"))
	assert.Equal(t, 1, m.Count("user123"))
}

func TestRegistrySweepClosesIdle(t *testing.T) {
	var clock atomic.Int64
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock.Store(start.UnixNano())

	registry := NewRegistry()
	registry.now = func() time.Time { return time.Unix(0, clock.Load()) }
	srv, tokens := newServer(t, &fakeProcessor{}, registry)
	conn := dial(t, srv, tokens, "user-1", "?tab=tab-1")
	roundTrip(t, conn, inbound{Type: "ping"})

	assert.Equal(t, 0, registry.Sweep(5*time.Minute))
	assert.Equal(t, 1, registry.Count("user-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		errc <- err
	}()

	clock.Store(start.Add(10 * time.Minute).UnixNano())
	assert.Equal(t, 1, registry.Sweep(5*time.Minute))
	assert.Equal(t, 0, registry.Count("user-1"))
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(<-errc))
}

func TestCloseUserDoesNotBlockOtherUsers(t *testing.T) {
	registry := NewRegistry()
	srv, tokens := newServer(t, &fakeProcessor{}, registry)
	conn := dial(t, srv, tokens, "user-1", "?tab=tab-1")
	roundTrip(t, conn, inbound{Type: "ping"})

	// conn is not read from, so the server's close handshake stalls.
	done := make(chan struct{})
	go func() {
		registry.CloseUser("user-1")
		close(done)
	}()

	assert.Eventually(t, func() bool { return registry.Count("user-1") == 0 }, time.Second, 10*time.Millisecond)

	start := time.Now()
	other := &websocket.Conn{}
	registry.Register("user-2", "tab-1", other)
	registry.Touch("user-2", "tab-1", other)
	assert.Equal(t, 1, registry.Count("user-2"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("CloseUser did not return")
	}
}

func TestRegisterReplacesTabWithoutBlocking(t *testing.T) {
	registry := NewRegistry()
	srv, tokens := newServer(t, &fakeProcessor{}, registry)
	first := dial(t, srv, tokens, "user-1", "?tab=tab-1")
	roundTrip(t, first, inbound{Type: "ping"})
	previous := registry.Get("user-1", "tab-1")
	require.NotNil(t, previous)

	// first is not read from while the second tab takes its place.
	second := dial(t, srv, tokens, "user-1", "?tab=tab-1")
	assert.Eventually(t, func() bool {
		current := registry.Get("user-1", "tab-1")
		return current != nil && current != previous
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, registry.Count("user-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	assert.Equal(t, "pong", roundTrip(t, second, inbound{Type: "ping"}).Type)
}

type blockingProcessor struct {
	fakeProcessor
	started chan struct{}
	release chan struct{}
}

func (b *blockingProcessor) Chat(ctx context.Context, req agent.ChatRequest) (*agent.ChatResponse, error) {
	b.started <- struct{}{}
	<-b.release
	return b.fakeProcessor.Chat(ctx, req)
}

func TestRegistryShutdownWaitsForHandlers(t *testing.T) {
	chat := &blockingProcessor{started: make(chan struct{}, 1), release: make(chan struct{})}
	registry := NewRegistry()
	srv, tokens := newServer(t, chat, registry)
	conn := dial(t, srv, tokens, "user-1", "?tab=tab-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, inbound{Type: "chat", Message: "fever"}))
	select {
	case <-chat.started:
	case <-ctx.Done():
		t.Fatal("chat request never reached the processor")
	}

	errc := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				errc <- err
				return
			}
		}
	}()

	// The handler is still inside Chat, so Shutdown cannot finish yet.
	short, cancelShort := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, registry.Shutdown(short), context.DeadlineExceeded)
	assert.Equal(t, 0, registry.Count("user-1"))
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(<-errc))

	close(chat.release)
	assert.NoError(t, registry.Shutdown(ctx))
	assert.Len(t, chat.snapshot(), 1)
}

func TestRegistryCloseAll(t *testing.T) {
	registry := NewRegistry()
	srv, tokens := newServer(t, &fakeProcessor{}, registry)

	conns := []*websocket.Conn{
		dial(t, srv, tokens, "user-1", "?tab=tab-1"),
		dial(t, srv, tokens, "user-2", "?tab=tab-1"),
	}
	errs := make(chan error, len(conns))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, conn := range conns {
		roundTrip(t, conn, inbound{Type: "ping"})
		go func(conn *websocket.Conn) {
			_, _, err := conn.Read(ctx)
			errs <- err
		}(conn)
	}

	registry.CloseAll()
	assert.Equal(t, 0, registry.Count("user-1"))
	assert.Equal(t, 0, registry.Count("user-2"))
	for range conns {
		assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(<-errs))
	}
}
