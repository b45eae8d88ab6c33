package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/arogya/internal/chat"
	"github.com/ashureev/arogya/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type noRemedies struct{}

func (noRemedies) FindByFreeText(context.Context, string, int) ([]domain.Remedy, error) {
	return nil, nil
}

type recordedExchange struct {
	userID, userMessage, botResponse, sessionID string
}

type fakeHistory struct {
	mu        sync.Mutex
	exchanges []recordedExchange
	err       error
}

func (f *fakeHistory) Record(_ context.Context, userID, userMessage, botResponse, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if sessionID == "" {
		sessionID = "sess-new"
	}
	f.exchanges = append(f.exchanges, recordedExchange{userID, userMessage, botResponse, sessionID})
	return sessionID, nil
}

func (f *fakeHistory) ListSessions(context.Context, string) ([]*domain.ChatSession, error) {
	return []*domain.ChatSession{{ID: "sess-new", Title: "fever"}}, nil
}

func (f *fakeHistory) SessionMessages(_ context.Context, _, sessionID string) ([]*domain.ChatMessage, error) {
	if sessionID != "sess-new" {
		return nil, domain.NewNotFoundError("chat session", sessionID)
	}
	return []*domain.ChatMessage{{Seq: 1, Role: domain.RoleUser, Content: "fever"}}, nil
}

func newTestService(t *testing.T, history *fakeHistory, opts ...ServiceOption) *Service {
	t.Helper()
	pipeline, err := chat.NewDefaultPipeline(noRemedies{}, nil)
	require.NoError(t, err)
	svc := NewService(pipeline, history, opts...)
	t.Cleanup(svc.Close)
	return svc
}

func TestServiceChatRecordsExchange(t *testing.T) {
	history := &fakeHistory{}
	svc := newTestService(t, history)

	resp, err := svc.Chat(context.Background(), ChatRequest{UserID: "u1", Message: "I have a Fever"})
	require.NoError(t, err)
	assert.Equal(t, "sess-new", resp.SessionID)
	assert.True(t, resp.Saved)
	assert.Equal(t, "symptom:fever", resp.Intent)
	assert.Contains(t, resp.Response, "Remedies for Fever")

	require.Len(t, history.exchanges, 1)
	ex := history.exchanges[0]
	assert.Equal(t, "u1", ex.userID)
	assert.Equal(t, "I have a Fever", ex.userMessage, "transcript keeps the original text")
	assert.Equal(t, resp.Response, ex.botResponse)
}

func TestServiceChatContinuesSession(t *testing.T) {
	history := &fakeHistory{}
	svc := newTestService(t, history)

	resp, err := svc.Chat(context.Background(), ChatRequest{UserID: "u1", Message: "stress", SessionID: "sess-7"})
	require.NoError(t, err)
	assert.Equal(t, "sess-7", resp.SessionID)
}

func TestServiceChatValidation(t *testing.T) {
	history := &fakeHistory{}
	svc := newTestService(t, history)

	_, err := svc.Chat(context.Background(), ChatRequest{Message: "fever"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Chat(context.Background(), ChatRequest{UserID: "u1", Message: "  "})
	assert.True(t, domain.IsInvalidInput(err))

	assert.Empty(t, history.exchanges)
}

func TestServiceChatSaveFailureStillReplies(t *testing.T) {
	dir := t.TempDir()
	auditLog, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir}, nil)
	require.NoError(t, err)

	history := &fakeHistory{err: errors.New("disk full")}
	svc := newTestService(t, history, WithConversationLogger(auditLog))

	resp, err := svc.Chat(context.Background(), ChatRequest{UserID: "u1", Message: "cough", SessionID: "old"})
	require.NoError(t, err)
	assert.False(t, resp.Saved)
	assert.Equal(t, "old", resp.SessionID)
	assert.Contains(t, resp.Response, "Cough & Cold")
	assert.NotContains(t, resp.Response, "disk full")

	line := waitForLogLine(t, filepath.Join(dir, "u1", "old.ndjson"))
	assert.NotEmpty(t, line)

	require.NoError(t, auditLog.Close())
	data, err := os.ReadFile(filepath.Join(dir, "u1", "old.ndjson"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"chat_history_save_failed"`)
	assert.Equal(t, 3, strings.Count(strings.TrimSpace(string(data)), "\n")+1)
}

func TestServiceChatRateLimited(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	svc := newTestService(t, &fakeHistory{}, WithRateLimiter(limiter))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := svc.Chat(ctx, ChatRequest{UserID: "u1", Message: "amla"})
		require.NoError(t, err)
	}
	_, err := svc.Chat(ctx, ChatRequest{UserID: "u1", Message: "amla"})
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.Chat(ctx, ChatRequest{UserID: "u2", Message: "amla"})
	assert.NoError(t, err, "limits are per user")
}

func TestServiceHistory(t *testing.T) {
	svc := newTestService(t, &fakeHistory{})
	ctx := context.Background()

	sessions, err := svc.Sessions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	_, err = svc.Messages(ctx, "u1", "other")
	assert.True(t, domain.IsNotFound(err))

	_, err = svc.Sessions(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)
	defer rl.Stop()

	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
	time.Sleep(80 * time.Millisecond)
	assert.True(t, rl.Allow("k"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	defer rl.Stop()
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("k"))
	}

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("k"))
	nilLimiter.Stop()
}
