package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/oriys/infer/internal/apierrors"
	"github.com/oriys/infer/internal/blobstore"
	"github.com/oriys/infer/internal/catalog"
	"github.com/oriys/infer/internal/config"
	"github.com/oriys/infer/internal/domain"
	"github.com/oriys/infer/internal/httpapi"
	"github.com/oriys/infer/internal/lifecycle"
	"github.com/oriys/infer/internal/logging"
	"github.com/oriys/infer/internal/metastore"
	"github.com/oriys/infer/internal/metrics"
	"github.com/oriys/infer/internal/observability"
	"github.com/oriys/infer/internal/orchestrator"
	"github.com/oriys/infer/internal/rpcapi"
	"github.com/oriys/infer/internal/runtime"
	"github.com/oriys/infer/internal/sessioncache"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the inference service's JSON and RPC transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)

	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer observability.Shutdown(context.Background())

	resolver, err := metastore.NewPostgresResolver(ctx, cfg.Metastore.DSN)
	if err != nil {
		return fmt.Errorf("connect metastore: %w", err)
	}

	blobs, err := newBlobstore(ctx, cfg.Blobstore)
	if err != nil {
		return fmt.Errorf("init blobstore: %w", err)
	}

	if err := runtime.Initialize(cfg.Runtime.LibraryPath); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	defer runtime.Destroy()

	runtimeOpts := runtime.Options{
		IntraOpThreads: cfg.Runtime.IntraOpThreads,
		InterOpThreads: cfg.Runtime.InterOpThreads,
		GraphOptLevel:  runtime.ParseGraphOptLevel(cfg.Runtime.GraphOptLevel),
	}

	var cache *sessioncache.Cache
	var metricsHandle *metrics.Metrics
	if cfg.Metrics.Enabled {
		// The size gauge closes over the cache variable; it is assigned
		// right below, before any scrape can observe it.
		metricsHandle = metrics.Init(cfg.Metrics.Namespace, cfg.Metrics.HistogramBuckets, func() float64 {
			if cache == nil {
				return 0
			}
			return float64(cache.Len())
		})
	}
	load := loader(blobs, cfg.Blobstore.Backend, runtimeOpts, metricsHandle, cfg.Cache.Verbose)
	cache = sessioncache.New(cfg.Cache.TTL, cfg.Cache.Capacity, load, metricsAdapter{metricsHandle})

	orch := &orchestrator.Orchestrator{
		Resolver: resolver,
		Cache:    cache,
		Metrics:  predictMetricsAdapter{metricsHandle},
		Logger:   logging.Default(),
	}

	lc := lifecycle.New(resolver, lifecycle.Options{
		PingInterval: cfg.Lifecycle.ReadinessInterval,
		GraceSeconds: int(cfg.Lifecycle.GracePeriod / time.Second),
	})

	httpSrv := buildHTTPServer(cfg, orch, resolver, blobs, metricsHandle)
	lc.RegisterServer(httpServerAdapter{httpSrv})
	go func() {
		logging.Op().Info("http transport listening", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("http transport failed", "error", err)
		}
	}()

	grpcSrv, healthSrv, err := buildRPCServer(cfg, orch)
	if err != nil {
		return fmt.Errorf("init rpc transport: %w", err)
	}
	lc.RegisterServer(grpcServerAdapter{grpcSrv})
	lc.RegisterReadinessSink(rpcapi.NewReadinessAdapter(healthSrv))

	lis, err := net.Listen("tcp", cfg.RPC.Addr)
	if err != nil {
		return fmt.Errorf("listen rpc addr: %w", err)
	}
	go func() {
		logging.Op().Info("rpc transport listening", "addr", cfg.RPC.Addr)
		if err := grpcSrv.Serve(lis); err != nil {
			logging.Op().Error("rpc transport failed", "error", err)
		}
	}()

	lc.RegisterCloser(resolver.Close)

	lc.Run(ctx)
	return nil
}

func newBlobstore(ctx context.Context, cfg config.BlobstoreConfig) (blobstore.CatalogStore, error) {
	switch cfg.Backend {
	case "s3":
		return blobstore.NewS3Store(ctx, cfg.Bucket, cfg.Region)
	default:
		return blobstore.NewDiskStore(cfg.RootDir)
	}
}

func loader(store blobstore.Store, backend string, opts runtime.Options, m *metrics.Metrics, verbose bool) sessioncache.Loader {
	return func(ctx context.Context, id domain.BlobID) (runtime.Session, error) {
		fetchStart := time.Now()
		data, err := blobstore.Read(ctx, store, id)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.StorageUnavailable, "read blob", err)
		}
		fetchDur := time.Since(fetchStart)
		m.RecordBlobFetch(backend, fetchDur)

		loadStart := time.Now()
		sess, err := runtime.NewSession(data, opts)
		if err != nil {
			return nil, err
		}
		loadDur := time.Since(loadStart)
		m.RecordSessionLoad(id.String(), loadDur)
		if verbose {
			logging.Op().Info("session loaded",
				"blob_id", id.String(),
				"bytes", len(data),
				"fetch_ms", fetchDur.Milliseconds(),
				"load_ms", loadDur.Milliseconds())
		}
		return sess, nil
	}
}

func buildHTTPServer(cfg *config.Config, orch *orchestrator.Orchestrator, resolver metastore.CatalogStore, blobs blobstore.CatalogStore, metricsHandle *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	h := &httpapi.Handler{Orchestrator: orch, Resolver: resolver, PingTimeout: 2 * time.Second}
	h.RegisterRoutes(mux)

	cat := &catalog.Handler{Store: resolver, Blobs: blobs}
	cat.RegisterRoutes(mux)

	if metricsHandle != nil {
		mux.Handle("GET /metrics", metricsHandle.Handler())
	}

	return &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: observability.HTTPMiddleware(mux),
	}
}

func buildRPCServer(cfg *config.Config, orch *orchestrator.Orchestrator) (*grpc.Server, *health.Server, error) {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.RPC.MaxRecvBytes),
		grpc.MaxSendMsgSize(cfg.RPC.MaxSendBytes),
	}
	srv := grpc.NewServer(opts...)

	rpcSrv := &rpcapi.Server{Orchestrator: orch}
	srv.RegisterService(&rpcapi.ServiceDesc, rpcSrv)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	rpcSrv.Health = healthSrv

	if cfg.RPC.Reflection {
		reflection.Register(srv)
	}

	return srv, healthSrv, nil
}

type httpServerAdapter struct{ srv *http.Server }

func (a httpServerAdapter) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

type grpcServerAdapter struct{ srv *grpc.Server }

func (a grpcServerAdapter) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.srv.Stop()
		return ctx.Err()
	}
}

type metricsAdapter struct{ m *metrics.Metrics }

func (a metricsAdapter) RecordCacheHit()      { a.m.RecordCacheHit() }
func (a metricsAdapter) RecordCacheMiss()     { a.m.RecordCacheMiss() }
func (a metricsAdapter) RecordCacheEviction() { a.m.RecordCacheEviction() }

type predictMetricsAdapter struct{ m *metrics.Metrics }

func (a predictMetricsAdapter) RecordPredict(model, transport, status string, d time.Duration) {
	a.m.RecordPredict(model, transport, status, d)
}
