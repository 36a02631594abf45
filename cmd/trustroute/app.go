package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/evm"
	trgrpc "github.com/dhays4sports/usdc-bot/grpc"
	"github.com/dhays4sports/usdc-bot/handoff"
	"github.com/dhays4sports/usdc-bot/httpapi"
	"github.com/dhays4sports/usdc-bot/ratelimit"
	"github.com/dhays4sports/usdc-bot/record"
	"github.com/dhays4sports/usdc-bot/resolve"
	"github.com/dhays4sports/usdc-bot/router"
	"github.com/dhays4sports/usdc-bot/stats"
	"github.com/dhays4sports/usdc-bot/store"
)

const shutdownTimeout = 10 * time.Second

// app holds the wired components of a running process.
type app struct {
	settings *Settings
	logger   *zap.Logger

	store   store.Store
	stats   *stats.Recorder
	codec   *handoff.Codec
	router  *router.Router
	records *record.Service
	limiter *ratelimit.Limiter

	closers []func()
}

// newApp wires every component from settings. Chain access is optional:
// without BASE_RPC_URL the verify route reports a configuration error.
func newApp(ctx context.Context, s *Settings, logger *zap.Logger) (*app, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	a := &app{settings: s, logger: logger}

	if s.RedisURL != "" {
		rs, err := store.OpenRedis(s.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		a.store = rs
		a.closers = append(a.closers, func() { rs.Close() })
	} else {
		logger.Warn("REDIS_URL not set, using an in-process store")
		a.store = store.NewMemoryStore()
	}

	recorder, err := stats.New(a.store, stats.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.stats = recorder

	codec, err := handoff.NewCodec(s.HandoffSecret, a.store,
		handoff.WithClockSkew(s.ClockSkew),
		handoff.WithLogger(logger),
		handoff.WithStats(recorder),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.codec = codec

	var remote trustroute.NameResolver
	if s.ResolverURL != "" {
		remote = resolve.NewClient(s.ResolverURL)
	}
	a.router = router.New(resolve.New(remote), router.WithLogger(logger))

	recordOpts := []record.Option{record.WithStats(recorder), record.WithLogger(logger)}
	if s.BaseRPCURL != "" {
		verifier, err := a.dialChain(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		recordOpts = append(recordOpts, record.WithVerifier(verifier))
	} else {
		logger.Warn("BASE_RPC_URL not set, auto-linking is disabled")
	}
	a.records = record.New(a.store, recordOpts...)

	a.limiter = ratelimit.New(a.store, ratelimit.WithLogger(logger))

	return a, nil
}

func (a *app) dialChain(ctx context.Context) (*evm.Verifier, error) {
	token, err := evm.ParseToken(a.settings.USDCBase)
	if err != nil {
		return nil, err
	}

	verifier, client, err := evm.Dial(ctx, a.settings.BaseRPCURL,
		evm.WithToken(token),
		evm.WithTimeout(a.settings.VerifyTimeout),
		evm.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		a.logger.Warn("could not read chain id", zap.Error(err))
	} else if chainID.Int64() != evm.BaseChainID {
		a.logger.Warn("chain rpc is not Base mainnet", zap.String("chain_id", chainID.String()))
	}

	return verifier, nil
}

// Close releases the store and chain connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// interceptorConfig guards the gRPC server. Every method except health
// checks shares the handoff bucket.
func (a *app) interceptorConfig() trustroute.Config {
	return trustroute.Config{
		Surface: a.settings.SurfaceID(),
		Limiter: a.limiter,
		Handoff: a.codec,
		MethodLimits: map[string]trustroute.LimitRule{
			"/*": httpapi.DefaultLimits().Handoff,
		},
		SkipMethods: []string{"/grpc.health.v1.Health/*"},
		Logger:      a.logger,
	}
}

// gatewayConfig consumes an optional ?h= or X-Handoff-Token on gateway
// routes so WithHandoffMetadata can forward the claims.
func (a *app) gatewayConfig() trustroute.Config {
	return trustroute.Config{
		Surface: a.settings.SurfaceID(),
		Handoff: a.codec,
		Logger:  a.logger,
	}
}

// httpHandler builds the HTTP surface. gateway, when non-nil, is served
// under /grpc/ behind the handoff middleware.
func (a *app) httpHandler(gateway http.Handler) (http.Handler, error) {
	api, err := httpapi.New(httpapi.Config{
		Surface:   a.settings.SurfaceID(),
		Handoff:   a.codec,
		Records:   a.records,
		Router:    a.router,
		Stats:     a.stats,
		Limiter:   a.limiter,
		CommitTTL: a.settings.CommitTTL,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	if gateway != nil {
		guarded := trustroute.HandoffMiddleware(a.gatewayConfig())(gateway)
		mux.Handle("/grpc/", http.StripPrefix("/grpc", guarded))
	}
	mux.Handle("/", api.Handler())
	return mux, nil
}

// run serves HTTP and gRPC until ctx is canceled.
func (a *app) run(ctx context.Context) error {
	cfg := a.interceptorConfig()
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trgrpc.UnaryServerInterceptor(cfg)),
		grpc.ChainStreamInterceptor(trgrpc.StreamServerInterceptor(cfg)),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", a.settings.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.settings.GRPCAddr, err)
	}

	conn, err := grpc.NewClient(dialTarget(a.settings.GRPCAddr), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		lis.Close()
		return fmt.Errorf("failed to connect gateway: %w", err)
	}
	defer conn.Close()

	gateway := runtime.NewServeMux(
		trustroute.WithHandoffMetadata(),
		runtime.WithHealthzEndpoint(healthpb.NewHealthClient(conn)),
	)

	handler, err := a.httpHandler(gateway)
	if err != nil {
		lis.Close()
		return err
	}

	httpServer := &http.Server{
		Addr:              a.settings.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("gRPC server listening", zap.String("addr", a.settings.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		a.logger.Info("HTTP server listening",
			zap.String("addr", a.settings.ListenAddr),
			zap.Stringer("surface", a.settings.SurfaceID()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errCh:
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()

	return runErr
}

// dialTarget turns a listen address into a dialable one.
func dialTarget(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
