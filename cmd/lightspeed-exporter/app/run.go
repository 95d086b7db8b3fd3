package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/api"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/auth"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/collector"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/config"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/exporter"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/ingress"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/shutdown"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/telemetry"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/logger"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/versions"
)

const (
	// credentialTimeout caps the whole credential resolution, on top of
	// the per-provider bounds.
	credentialTimeout = 60 * time.Second
	// opsReadHeaderTimeout bounds header reads on the operational
	// listener. Probes send tiny requests; anything slower is stuck.
	opsReadHeaderTimeout = 5 * time.Second
	// opsShutdownTimeout is how long in-flight probe requests get to
	// finish once the collection loop has ended.
	opsShutdownTimeout = 10 * time.Second
	// telemetryShutdownTimeout bounds the final trace and metric flush.
	telemetryShutdownTimeout = 5 * time.Second
)

func runRoot(cmd *cobra.Command, _ []string) error {
	log := logger.For("app")

	mode, err := auth.ParseMode(viper.GetString("mode"))
	if err != nil {
		return err
	}

	settings, explicitIdentity, err := resolveSettings()
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	if viper.GetBool("print-config-and-exit") {
		dump, err := settings.Dump()
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		fmt.Println(dump)
		return nil
	}

	log.Infow("Starting lightspeed-exporter",
		"version", versions.GetVersionInfo().Version,
		"mode", mode,
		"data_dir", settings.DataDir,
		"service_id", settings.ServiceID,
	)

	provider, err := auth.NewProvider(mode, auth.Options{
		AuthToken:    settings.IngressServerAuthToken,
		IdentityID:   explicitIdentity,
		ClientID:     viper.GetString("client-id"),
		ClientSecret: viper.GetString("client-secret"),
		UseStage:     viper.GetBool("use-sso-stage"),
	})
	if err != nil {
		logHint(log, mode)
		return fmt.Errorf("failed to initialize %s authentication: %w", mode, err)
	}

	credCtx, cancel := context.WithTimeout(cmd.Context(), credentialTimeout)
	token, identity, err := provider.Credentials(credCtx)
	cancel()
	if err != nil {
		logHint(log, mode)
		return fmt.Errorf("failed to resolve Ingress credentials: %w", err)
	}
	settings.IngressServerAuthToken = token
	if identity != "" {
		settings.IdentityID = identity
	}
	log.Infow("Resolved Ingress credentials", "mode", mode, "identity_id", settings.IdentityID)

	return run(cmd.Context(), settings)
}

// run wires the collection pipeline and drives it until the controller
// reaches a terminal state. The optional operational listener lives and
// dies with the collection loop.
func run(ctx context.Context, settings config.Settings) error {
	log := logger.For("app")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := shutdown.NewSignal()
	shutdown.Notify(runCtx, sig, logger.For("shutdown"))

	if settings.Telemetry != nil && settings.Telemetry.ServiceVersion == "" {
		settings.Telemetry.ServiceVersion = versions.GetVersionInfo().Version
	}

	// The Prometheus pull bridge only makes sense when the operational
	// listener is up to serve it.
	var registry *prometheus.Registry
	if settings.OpsAddress != "" && settings.Telemetry.PrometheusEnabled() {
		registry = prometheus.NewRegistry()
	}

	tel, err := telemetry.New(runCtx,
		telemetry.WithTelemetryConfig(settings.Telemetry),
		telemetry.WithPrometheusRegistry(registry),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			log.Warnw("Telemetry shutdown failed", "error", err)
		}
	}()

	cycleMetrics, err := telemetry.NewCycleMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create cycle metrics: %w", err)
	}
	collectionMetrics, err := telemetry.NewCollectionMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create collection metrics: %w", err)
	}
	ingressMetrics, err := telemetry.NewIngressMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create upload metrics: %w", err)
	}
	httpMetrics, err := telemetry.NewHTTPClientMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create HTTP client metrics: %w", err)
	}

	uploader, err := ingress.New(ingress.Config{
		ServerURL:  settings.IngressServerURL,
		AuthToken:  settings.IngressServerAuthToken,
		ServiceID:  settings.ServiceID,
		IdentityID: settings.IdentityID,
		Timeout:    settings.IngressConnectionTimeout(),
	},
		ingress.WithMetrics(ingressMetrics),
		ingress.WithTransport(telemetry.TracingTransport(
			tel.TracerProvider(),
			httpMetrics.Transport(http.DefaultTransport),
		)),
	)
	if err != nil {
		return fmt.Errorf("failed to create Ingress client: %w", err)
	}

	svc, err := collector.New(settings.DataDir, uploader,
		collector.WithCleanup(settings.CleanupAfterSend),
		collector.WithAllowedSubdirs(settings.AllowedSubdirs),
		collector.WithCollectionMetrics(collectionMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warnw("Collector close failed", "error", err)
		}
	}()

	readiness := &api.Readiness{}
	controller, err := exporter.New(svc, sig, settings.CollectionInterval(),
		exporter.WithRetryInterval(settings.RetryInterval()),
		exporter.WithCycleMetrics(cycleMetrics),
		exporter.WithTracer(tel.Tracer("lightspeed-exporter")),
		exporter.WithCycleObserver(readiness.MarkReady),
	)
	if err != nil {
		return fmt.Errorf("failed to create exporter: %w", err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)

	var server *http.Server
	if settings.OpsAddress != "" {
		opts := []api.ServerOption{
			api.WithReadiness(readiness),
			api.WithMiddlewares(
				middleware.RequestID,
				middleware.RealIP,
				middleware.Recoverer,
				api.LoggingMiddleware,
			),
		}
		if registry != nil {
			opts = append(opts, api.WithMetricsHandler(
				promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			))
		}
		server = &http.Server{
			Addr:              settings.OpsAddress,
			Handler:           api.NewServer(opts...),
			ReadHeaderTimeout: opsReadHeaderTimeout,
		}
		group.Go(func() error {
			log.Infow("Starting operational endpoints", "address", settings.OpsAddress)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("operational listener failed: %w", err)
			}
			return nil
		})
	}

	var status exporter.ExitStatus
	group.Go(func() error {
		status = controller.Run(groupCtx)
		if server != nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(drainCtx); err != nil {
				log.Warnw("Operational listener shutdown failed", "error", err)
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	log.Infow("Exporter finished", "status", status.String(), "exit_code", status.Code())
	if status.Code() != 0 {
		return errors.New("data collection terminated with errors")
	}
	return nil
}

func logHint(log *zap.SugaredLogger, mode auth.Mode) {
	if hint := auth.Hint(mode); hint != "" {
		log.Info(hint)
	}
}

// resolveSettings layers the configuration sources: defaults, then the
// YAML file, then flags and environment variables. The identity the
// operator supplied explicitly is reported separately because manual and
// sso authentication distinguish it from the attribution fallback.
func resolveSettings() (config.Settings, string, error) {
	var loadOpts []config.Option
	if path := viper.GetString("config"); path != "" {
		loadOpts = append(loadOpts, config.WithPath(path))
	} else {
		loadOpts = append(loadOpts, config.WithXDGLookup())
	}
	file, err := config.LoadFile(loadOpts...)
	if err != nil {
		return config.Settings{}, "", err
	}

	overrides := config.Overrides{
		DataDir:                  stringOverride("data-dir"),
		ServiceID:                stringOverride("service-id"),
		IngressServerURL:         stringOverride("ingress-server-url"),
		IngressServerAuthToken:   stringOverride("ingress-server-auth-token"),
		IdentityID:               stringOverride("identity-id"),
		CollectionInterval:       intOverride("collection-interval"),
		RetryInterval:            intOverride("retry-interval"),
		IngressConnectionTimeout: intOverride("ingress-connection-timeout"),
		OpsAddress:               stringOverride("ops-address"),
		TelemetryEnabled:         boolOverride("telemetry"),
		TelemetryEndpoint:        stringOverride("telemetry-endpoint"),
	}
	if noCleanup := boolOverride("no-cleanup"); noCleanup != nil {
		cleanup := !*noCleanup
		overrides.CleanupAfterSend = &cleanup
	}
	if viper.IsSet("allowed-subdirs") {
		overrides.AllowedSubdirs = viper.GetStringSlice("allowed-subdirs")
	}

	var explicitIdentity string
	switch {
	case overrides.IdentityID != nil:
		explicitIdentity = *overrides.IdentityID
	case file.IdentityID != nil:
		explicitIdentity = *file.IdentityID
	}

	return config.Resolve(file, overrides), explicitIdentity, nil
}

// stringOverride returns the flag or environment value for key, or nil
// when neither was supplied. Unchanged flag defaults do not count as set,
// which is what keeps the file layer underneath authoritative.
func stringOverride(key string) *string {
	if !viper.IsSet(key) {
		return nil
	}
	v := viper.GetString(key)
	return &v
}

func intOverride(key string) *int {
	if !viper.IsSet(key) {
		return nil
	}
	v := viper.GetInt(key)
	return &v
}

func boolOverride(key string) *bool {
	if !viper.IsSet(key) {
		return nil
	}
	v := viper.GetBool(key)
	return &v
}
