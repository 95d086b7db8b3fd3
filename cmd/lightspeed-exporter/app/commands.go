// Package app provides the entry point for the Lightspeed exporter.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/auth"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/config"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/logger"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "lightspeed-exporter",
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	Short:             "Export Lightspeed interaction data to Dataverse",
	Long: `lightspeed-exporter periodically collects the JSON records a Lightspeed
service writes to its data directory and uploads them as archives to the
Red Hat console Ingress service, where they are routed to Dataverse.

Credentials are resolved from the surrounding OpenShift cluster by
default; service accounts can authenticate through Red Hat SSO instead
(--mode sso), and explicit credentials are accepted for development
(--mode manual).`,
	Args: cobra.NoArgs,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		format := logger.Format(viper.GetString("log-format"))
		if viper.GetBool("rich-logs") {
			format = logger.FormatConsole
		}
		logger.Initialize(viper.GetString("log-level"), format)
		ctrl.SetLogger(logger.NewLogr())
	},
	RunE: runRoot,
}

// NewRootCmd creates the root command for the exporter.
func NewRootCmd() *cobra.Command {
	flags := rootCmd.PersistentFlags()
	flags.String("mode", string(auth.ModeOpenShift), "Authentication mode (openshift, sso, manual)")
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("data-dir", "", "Directory to collect record files from")
	flags.String("service-id", "", "Service identifier sent with every upload")
	flags.String("ingress-server-url", "", "Ingress upload endpoint URL")
	flags.String("ingress-server-auth-token", "", "Ingress auth token (manual mode)")
	flags.String("identity-id", "", "Identity the uploads are attributed to")
	flags.Int("collection-interval", config.DefaultCollectionIntervalSeconds,
		"Seconds between collection cycles (0 collects once and exits)")
	flags.Int("retry-interval", config.DefaultRetryIntervalSeconds,
		"Seconds to wait before retrying a failed cycle")
	flags.Int("ingress-connection-timeout", config.DefaultIngressTimeoutSeconds,
		"Timeout in seconds for a single upload request")
	flags.Bool("no-cleanup", false, "Keep collected files on disk after a successful upload")
	flags.StringSlice("allowed-subdirs", nil, "Data directory subdirectories to collect from (default: all)")
	flags.String("client-id", "", "Red Hat SSO service account client ID (sso mode)")
	flags.String("client-secret", "", "Red Hat SSO service account client secret (sso mode)")
	flags.String("log-level", logger.LevelInfo, "Log level (debug, info, warn, error)")
	flags.String("log-format", string(logger.FormatAuto), "Log format (auto, json, console)")
	flags.Bool("rich-logs", false, "Force colored console logging")
	flags.Bool("print-config-and-exit", false, "Print the resolved configuration and exit")
	flags.String("ops-address", "", "Listen address for health and metrics endpoints (disabled when empty)")
	flags.Bool("telemetry", false, "Enable OpenTelemetry tracing and metrics")
	flags.String("telemetry-endpoint", "", "OTLP HTTP endpoint (host:port)")

	log := logger.For("app")
	for _, name := range []string{
		"mode", "config", "data-dir", "service-id", "ingress-server-url",
		"ingress-server-auth-token", "identity-id", "collection-interval",
		"retry-interval", "ingress-connection-timeout", "no-cleanup",
		"allowed-subdirs", "client-id", "client-secret", "log-level",
		"log-format", "rich-logs", "print-config-and-exit", "ops-address",
		"telemetry", "telemetry-endpoint",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			log.Fatalf("Failed to bind %s flag: %v", name, err)
		}
	}
	for key, env := range map[string]string{
		"ingress-server-auth-token": "INGRESS_SERVER_AUTH_TOKEN",
		"client-id":                 "CLIENT_ID",
		"client-secret":             "CLIENT_SECRET",
		"use-sso-stage":             "USE_SSO_STAGE",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("Failed to bind %s environment variable: %v", env, err)
		}
	}

	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		log := logger.For("app")
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			log.Errorf("Failed to read format flag: %v", err)
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				log.Errorf("Failed to format version info as JSON: %v", err)
				return
			}
			fmt.Println(string(output))
		} else {
			log.Infow("lightspeed-exporter version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
