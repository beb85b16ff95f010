package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ModelService is the gRPC service name of the remote model.
	ModelService = "videa.llm.v1.LanguageModel"
	// GenerateMethod takes a google.protobuf.Struct and returns a google.protobuf.StringValue.
	GenerateMethod = "/" + ModelService + "/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("model service not serving")
)

// GRPCConfig holds configuration for the gRPC gateway.
type GRPCConfig struct {
	Address          string
	Model            string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended after the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCGateway calls a remote model service over gRPC.
type GRPCGateway struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	model  string
	logger *slog.Logger
}

// NewGRPCGateway connects to the model service and fails fast if it never becomes ready.
func NewGRPCGateway(ctx context.Context, cfg GRPCConfig, logger *slog.Logger) (*GRPCGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultGRPCConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
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

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("create model client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to model service", "address", cfg.Address, "model", cfg.Model)

	return &GRPCGateway{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		model:  cfg.Model,
		logger: logger,
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

// Generate sends the prompt as a Struct and reads the completion text.
func (g *GRPCGateway) Generate(ctx context.Context, req Request) (string, error) {
	in, err := encodeRequest(g.model, req)
	if err != nil {
		return "", unavailable("encode request", err)
	}

	out := &wrapperspb.StringValue{}
	if err := g.conn.Invoke(ctx, GenerateMethod, in, out); err != nil {
		return "", unavailable("generate", err)
	}
	return out.GetValue(), nil
}

// Health asks the standard gRPC health service about the model service.
func (g *GRPCGateway) Health(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ModelService})
	if err != nil {
		return unavailable("health check", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return unavailable("health check", fmt.Errorf("%w: %s", errNotServing, resp.GetStatus()))
	}
	return nil
}

func (g *GRPCGateway) Name() string { return "grpc:" + g.addr }

// Close closes the gRPC connection.
func (g *GRPCGateway) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

func encodeRequest(model string, req Request) (*structpb.Struct, error) {
	msgs := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	fields := map[string]any{
		"system":   req.System,
		"messages": msgs,
	}
	if model != "" {
		fields["model"] = model
	}
	if req.Temperature > 0 {
		fields["temperature"] = float64(req.Temperature)
	}
	if req.MaxTokens > 0 {
		fields["max_tokens"] = float64(req.MaxTokens)
	}
	return structpb.NewStruct(fields)
}
