package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/arogya/internal/chat"
	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/store"
)

// Service answers chat messages and keeps the transcript.
type Service struct {
	pipeline *chat.Pipeline
	history  store.ChatHistoryStore
	limiter  *RateLimiter
	log      ConversationLogger
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRateLimiter throttles Chat per user.
func WithRateLimiter(rl *RateLimiter) ServiceOption {
	return func(s *Service) { s.limiter = rl }
}

// WithConversationLogger sets the audit log.
func WithConversationLogger(l ConversationLogger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithServiceLogger sets the structured logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a chat service.
func NewService(pipeline *chat.Pipeline, history store.ChatHistoryStore, opts ...ServiceOption) *Service {
	s := &Service{
		pipeline: pipeline,
		history:  history,
		log:      noopConversationLogger{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat answers req.Message for req.UserID.
//
// A blank message yields domain.ErrInvalidInput and an unknown user
// domain.ErrUnauthorized. A failure to save the transcript is logged and the
// reply is still returned, carrying the request's session ID.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	if !s.limiter.Allow(req.UserID) {
		return nil, ErrRateLimited
	}
	if req.Channel == "" {
		req.Channel = ChannelHTTP
	}

	reply, intent, err := s.pipeline.Answer(ctx, req.Message)
	if err != nil {
		return nil, err
	}

	resp := &ChatResponse{
		Response:  reply,
		SessionID: req.SessionID,
		Intent:    intent.Label(),
	}

	sessionID, err := s.history.Record(ctx, req.UserID, req.Message, reply, req.SessionID)
	if err != nil {
		s.logger.Error("Failed to save chat history",
			"user_id", req.UserID,
			"session_id", req.SessionID,
			"error", err)
		s.audit(req, req.SessionID, "chat_history_save_failed", "", map[string]any{"error": err.Error()})
	} else {
		resp.SessionID = sessionID
		resp.Saved = true
	}

	s.audit(req, resp.SessionID, "chat_user_message", req.Message, nil)
	s.audit(req, resp.SessionID, "chat_assistant_message", reply, map[string]any{
		"intent": resp.Intent,
		"saved":  resp.Saved,
	})

	s.logger.Info("Chat answered",
		"user_id", req.UserID,
		"session_id", resp.SessionID,
		"channel", req.Channel,
		"intent", resp.Intent,
		"message_length", len(req.Message))
	return resp, nil
}

// Sessions lists the user's sessions, newest first.
func (s *Service) Sessions(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	return s.history.ListSessions(ctx, userID)
}

// Messages returns one of the user's sessions in order.
func (s *Service) Messages(ctx context.Context, userID, sessionID string) ([]*domain.ChatMessage, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	return s.history.SessionMessages(ctx, userID, sessionID)
}

// Close releases resources.
func (s *Service) Close() {
	s.limiter.Stop()
	if err := s.log.Close(); err != nil {
		s.logger.Warn("failed to close conversation logger", "error", err)
	}
}

func (s *Service) audit(req ChatRequest, sessionID, eventType, content string, meta map[string]any) {
	direction := "inbound"
	if eventType == "chat_user_message" {
		direction = "outbound"
	}
	if req.RequestID != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["request_id"] = req.RequestID
	}
	s.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     req.UserID,
		SessionID:  sessionID,
		Channel:    string(req.Channel),
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
