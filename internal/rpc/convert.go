package rpc

import (
	"fmt"
	"time"

	"github.com/ashureev/arogya/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func sessionsToStruct(sessions []*domain.ChatSession) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(sessions))
	for _, s := range sessions {
		m := map[string]interface{}{
			"id":              s.ID,
			"title":           s.Title,
			"created_at":      formatTime(s.CreatedAt),
			"last_message_at": formatTime(s.LastMessageAt),
		}
		if s.LastMessage != nil {
			m["last_message"] = *s.LastMessage
		}
		if s.LastMessageTime != nil {
			m["last_message_time"] = formatTime(*s.LastMessageTime)
		}
		list = append(list, m)
	}
	out, err := structpb.NewStruct(map[string]interface{}{"sessions": list})
	if err != nil {
		return nil, fmt.Errorf("encode sessions: %w", err)
	}
	return out, nil
}

func sessionsFromStruct(in *structpb.Struct) []*domain.ChatSession {
	values := in.GetFields()["sessions"].GetListValue().GetValues()
	sessions := make([]*domain.ChatSession, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		s := &domain.ChatSession{
			ID:            f["id"].GetStringValue(),
			Title:         f["title"].GetStringValue(),
			CreatedAt:     parseTime(f["created_at"].GetStringValue()),
			LastMessageAt: parseTime(f["last_message_at"].GetStringValue()),
		}
		if lm, ok := f["last_message"]; ok {
			s.LastMessage = domain.StringPtr(lm.GetStringValue())
		}
		if lt, ok := f["last_message_time"]; ok {
			t := parseTime(lt.GetStringValue())
			s.LastMessageTime = &t
		}
		sessions = append(sessions, s)
	}
	return sessions
}

func messagesToStruct(sessionID string, messages []*domain.ChatMessage) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		list = append(list, map[string]interface{}{
			"id":         m.ID,
			"seq":        float64(m.Seq),
			"role":       string(m.Role),
			"message":    m.Content,
			"created_at": formatTime(m.CreatedAt),
		})
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"session_id": sessionID,
		"messages":   list,
	})
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return out, nil
}

func messagesFromStruct(in *structpb.Struct) []*domain.ChatMessage {
	sessionID := in.GetFields()["session_id"].GetStringValue()
	values := in.GetFields()["messages"].GetListValue().GetValues()
	messages := make([]*domain.ChatMessage, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		messages = append(messages, &domain.ChatMessage{
			ID:        f["id"].GetStringValue(),
			SessionID: sessionID,
			Seq:       int64(f["seq"].GetNumberValue()),
			Role:      domain.MessageRole(f["role"].GetStringValue()),
			Content:   f["message"].GetStringValue(),
			CreatedAt: parseTime(f["created_at"].GetStringValue()),
		})
	}
	return messages
}
