package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/arogya/internal/agent"
	"github.com/ashureev/arogya/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// Client talks to a remote Assistant service. It implements agent.Processor;
// the caller identity comes from the token, not from request user IDs.
type Client struct {
	conn    *grpc.ClientConn
	addr    string
	token   string
	timeout time.Duration
	logger  *slog.Logger
}

// Ensure Client implements agent.Processor.
var _ agent.Processor = (*Client)(nil)

// ClientConfig holds configuration for the gRPC client.
type ClientConfig struct {
	Address          string
	Token            string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults, e.g. a bufconn dialer in tests.
	DialOptions []grpc.DialOption
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewClient connects to an Assistant service and waits until the
// connection is ready.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to assistant at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt so bad endpoints fail fast.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("assistant at %s not ready: %w", cfg.Address, err)
	}

	logger.Debug("Connected to assistant service", "address", cfg.Address)
	return &Client{
		conn:    conn,
		addr:    cfg.Address,
		token:   cfg.Token,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "address", c.addr, "error", err)
		}
	}
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	return ctx, cancel
}

// Chat sends one message.
func (c *Client) Chat(ctx context.Context, req agent.ChatRequest) (*agent.ChatResponse, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"message":    req.Message,
		"session_id": req.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, askMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return &agent.ChatResponse{
		Response:  out.GetFields()["response"].GetStringValue(),
		SessionID: out.GetFields()["session_id"].GetStringValue(),
	}, nil
}

// Sessions lists the caller's sessions. userID is ignored; the token decides.
func (c *Client) Sessions(ctx context.Context, _ string) ([]*domain.ChatSession, error) {
	out, err := c.history(ctx, "")
	if err != nil {
		return nil, err
	}
	return sessionsFromStruct(out), nil
}

// Messages returns one of the caller's sessions.
func (c *Client) Messages(ctx context.Context, _, sessionID string) ([]*domain.ChatMessage, error) {
	if sessionID == "" {
		return nil, domain.NewInvalidInputError("session id is required")
	}
	out, err := c.history(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return messagesFromStruct(out), nil
}

func (c *Client) history(ctx context.Context, sessionID string) (*structpb.Struct, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, historyMethod, wrapperspb.String(sessionID), out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// fromStatus maps gRPC status codes back to the service's error taxonomy.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return domain.NewInvalidInputError(st.Message())
	case codes.Unauthenticated:
		return domain.ErrUnauthorized
	case codes.ResourceExhausted:
		return agent.ErrRateLimited
	case codes.NotFound:
		return &domain.DomainError{Code: "NOT_FOUND", Message: st.Message(), Err: domain.ErrNotFound}
	case codes.Unavailable:
		return domain.NewStoreUnavailableError(err)
	default:
		return fmt.Errorf("assistant call failed: %w", err)
	}
}
