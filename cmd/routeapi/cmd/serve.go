package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/routeoptions/route-options/pkg/api"
	"github.com/routeoptions/route-options/pkg/auth"
	"github.com/routeoptions/route-options/pkg/config"
	"github.com/routeoptions/route-options/pkg/logging"
	"github.com/routeoptions/route-options/pkg/metrics"
	"github.com/routeoptions/route-options/pkg/middleware"
	"github.com/routeoptions/route-options/pkg/osrm"
	"github.com/routeoptions/route-options/pkg/ratelimit"
	"github.com/routeoptions/route-options/pkg/shutdown"
	"github.com/routeoptions/route-options/pkg/store"
	tlsutil "github.com/routeoptions/route-options/pkg/tls"
	"github.com/routeoptions/route-options/pkg/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Route Options API server",
	Long: `Start the HTTP API. Settings come from the config file, ROUTEAPI_* environment
variables (OSRM_BASE_URL, FUEL_L_PER_100KM and FUEL_PRICE_PER_LITER are also
read) and the flags below.

Example:
  routeapi serve --host 0.0.0.0 --port 8000
  OSRM_BASE_URL=http://localhost:5000 routeapi serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "interface to bind")
	serveCmd.Flags().Int("port", 8000, "port to listen on")
	serveCmd.Flags().String("osrm-url", "", "OSRM base URL")
	serveCmd.Flags().String("store", "", "query history store: memory, sqlite or postgres")
	serveCmd.Flags().String("log-level", "", "log level: debug, info, warn, error")
}

var serveFlagKeys = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"osrm-url":  "osrm.base_url",
	"store":     "store.type",
	"log-level": "logging.level",
}

func runServe(cmd *cobra.Command, args []string) error {
	for flag, key := range serveFlagKeys {
		// unset flags must not shadow file and env values
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", flag, err)
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = Version
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", map[string]interface{}{"error": err.Error()})
		return err
	}

	return app.run(ctx)
}

// app is the assembled server with everything it owns
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	handler  http.Handler
	store    store.Store
	metrics  *metrics.Metrics
	tracer   *tracing.Provider
	limiter  *ratelimit.Limiter
	shutdown *shutdown.Manager
	stop     chan struct{}
}

// newApp builds the handler chain and its dependencies without listening
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		shutdown: shutdown.New(cfg.Server.ShutdownTimeout, logger),
		stop:     make(chan struct{}),
	}

	tp, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tp

	st, err := store.NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", cfg.Store.Type, err)
	}
	a.store = st

	osrmClient := osrm.NewClient(cfg.OSRM)
	if cfg.Tracing.Enabled {
		osrmClient.SetTracer(tp.Tracer())
	}

	handler := api.NewRouteHandler(osrmClient, st, cfg.RequestDefaults(), logger)

	router := mux.NewRouter()
	router.Use(tracing.HTTPMiddleware(tp))
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(Version)
		handler.SetMetricsRecorder(a.metrics)
		router.Use(a.metrics.Middleware())
	}
	if cfg.RateLimit.Enabled {
		a.limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
		router.Use(a.limiter.Middleware(ratelimit.KeyFunc(cfg.RateLimit.TrustForwardedFor)))
	}
	if cfg.Auth.Enabled() {
		router.Use(auth.NewVerifier(cfg.Auth).Middleware("/health"))
	}
	handler.RegisterRoutes(router)

	var h http.Handler = router
	h = middleware.Recover(logger)(h)
	h = middleware.AccessLog(logger)(h)
	h = middleware.RequestID(h)
	a.handler = middleware.CORS(cfg.CORS, h)

	return a, nil
}

// run listens until a signal or ctx ends, then shuts down in reverse order
func (a *app) run(ctx context.Context) error {
	cfg := a.cfg
	m := a.shutdown

	m.Register("tracing", a.tracer.Shutdown)
	m.Register("store", shutdown.CloseResource(a.store, "store"))
	m.Register("background", func(context.Context) error {
		close(a.stop)
		return nil
	})

	if cfg.Logging.Dir != "" && cfg.Logging.MaxSizeMB > 0 {
		go a.logger.RunRotation(cfg.Logging.MaxSizeMB*1024*1024, time.Minute, a.stop)
	}
	if a.limiter != nil {
		go a.limiter.RunCleanup(time.Minute, a.stop)
		a.logger.Info("Rate limiting enabled", map[string]interface{}{"rps": cfg.RateLimit.RPS, "burst": cfg.RateLimit.Burst})
	}
	if cfg.Auth.Enabled() {
		a.logger.Info("API authentication enabled")
	}

	if a.metrics != nil {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", a.metrics).Methods("GET")
		metricsRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"healthy"}`))
		}).Methods("GET")

		metricsSrv := &http.Server{
			Addr:         cfg.Metrics.Addr,
			Handler:      metricsRouter,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		m.Register("metrics server", shutdown.StopHTTPServer(metricsSrv, "metrics"))

		go func() {
			a.logger.Info("Metrics server listening", map[string]interface{}{"addr": cfg.Metrics.Addr})
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// OSRM calls alone may take the full timeout per attempt
		WriteTimeout: cfg.OSRM.Timeout*time.Duration(cfg.OSRM.Retry.MaxRetries+1) + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := tlsutil.ServerConfig(cfg.TLS)
		if err != nil {
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
		srv.TLSConfig = tlsConfig
	}
	m.Register("api server", shutdown.StopHTTPServer(srv, "api"))

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Route Options API listening", map[string]interface{}{
			"addr":      srv.Addr,
			"tls":       cfg.TLS.Enabled,
			"osrm":      cfg.OSRM.BaseURL,
			"store":     cfg.Store.Type,
			"version":   Version,
			"endpoints": "GET /health, GET /osrm-test, POST /route-options, GET /queries, GET /queries/stats, GET /queries/{id}",
		})

		var err error
		if cfg.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			m.Trigger()
		}
	}()

	m.Wait(ctx)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	default:
		return nil
	}
}
