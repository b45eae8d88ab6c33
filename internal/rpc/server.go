package rpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/arogya/internal/agent"
	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server implements AssistantServer on top of a chat processor.
type Server struct {
	chat   agent.Processor
	logger *slog.Logger
}

// NewServer creates an Assistant service implementation.
func NewServer(chat agent.Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{chat: chat, logger: logger}
}

// Ask answers one message.
func (s *Server) Ask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	message := fields["message"].GetStringValue()
	if strings.TrimSpace(message) == "" {
		return nil, status.Error(codes.InvalidArgument, "No message provided")
	}

	resp, err := s.chat.Chat(ctx, agent.ChatRequest{
		Message:   message,
		SessionID: fields["session_id"].GetStringValue(),
		UserID:    identity.UserIDFromContext(ctx),
		Channel:   agent.ChannelGRPC,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"response":   resp.Response,
		"session_id": resp.SessionID,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// History lists sessions, or one session's messages when in is non-empty.
func (s *Server) History(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID := identity.UserIDFromContext(ctx)
	sessionID := strings.TrimSpace(in.GetValue())

	if sessionID == "" {
		sessions, err := s.chat.Sessions(ctx, userID)
		if err != nil {
			return nil, toStatus(err)
		}
		out, err := sessionsToStruct(sessions)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return out, nil
	}

	messages, err := s.chat.Messages(ctx, userID, sessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := messagesToStruct(sessionID, messages)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps service errors to gRPC status codes with user-safe messages.
func toStatus(err error) error {
	switch {
	case domain.IsInvalidInput(err):
		return status.Error(codes.InvalidArgument, domain.UserMessage(err, "invalid request"))
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "User not logged in")
	case errors.Is(err, agent.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "Too many messages, please slow down")
	case domain.IsNotFound(err):
		return status.Error(codes.NotFound, domain.UserMessage(err, "not found"))
	case domain.IsStoreUnavailable(err):
		return status.Error(codes.Unavailable, domain.UserMessage(err, "service unavailable"))
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	default:
		return status.Error(codes.Internal, "I apologize, but I encountered an error. Please try again.")
	}
}

// UnaryAuthInterceptor authenticates Assistant calls from Bearer metadata.
// Other services, such as health checks, pass through.
func UnaryAuthInterceptor(tokens *identity.Tokens) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var token string
		if v := md.Get("authorization"); len(v) > 0 {
			token = identity.BearerToken(v[0])
		}
		claims, err := tokens.Parse(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "User not logged in")
		}
		return handler(identity.WithUser(ctx, claims.UserID, claims.Medical), req)
	}
}

// UnaryLoggingInterceptor logs each call with its status code and latency.
func UnaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unavailable {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "gRPC call",
			"method", info.FullMethod,
			"code", code.String(),
			"duration", time.Since(start))
		return resp, err
	}
}

// ServerConfig holds gRPC server settings.
type ServerConfig struct {
	KeepaliveTime     time.Duration
	KeepaliveTimeout  time.Duration
	MinPingInterval   time.Duration
	MaxConnectionIdle time.Duration
}

// DefaultServerConfig returns default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		KeepaliveTime:     2 * time.Minute,
		KeepaliveTimeout:  10 * time.Second,
		MinPingInterval:   30 * time.Second,
		MaxConnectionIdle: 15 * time.Minute,
	}
}

// NewGRPCServer builds a gRPC server with the Assistant and health
// services registered. The health service reports SERVING for the
// Assistant until Shutdown is called on the returned health server.
func NewGRPCServer(chat agent.Processor, tokens *identity.Tokens, cfg ServerConfig, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:              cfg.KeepaliveTime,
			Timeout:           cfg.KeepaliveTimeout,
			MaxConnectionIdle: cfg.MaxConnectionIdle,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             cfg.MinPingInterval,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			UnaryLoggingInterceptor(logger),
			UnaryAuthInterceptor(tokens),
		),
	)
	RegisterAssistantServer(srv, NewServer(chat, logger))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
