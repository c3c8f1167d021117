// Command magicmirrord is the Magic Mirror streaming daemon: it selects a
// GPU device, launches the QUIC server, and owns every session's Reactor
// goroutine (spec §5). Its cobra/viper command wiring generalizes the
// pattern from the retrieved breeze-agent's cmd/breeze-agent/main.go
// (rootCmd + subcommand vars + init()-time flag/viper binding) to this
// daemon's run/version surface.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/magicmirror/mmcore/internal/applog"
	"github.com/magicmirror/mmcore/internal/config"
	"github.com/magicmirror/mmcore/internal/daemon"
	"github.com/magicmirror/mmcore/internal/gpux"
	"github.com/magicmirror/mmcore/internal/metrics"
	"github.com/magicmirror/mmcore/internal/transport"
)

var log = applog.Component("MAIN")

const appVersion = "0.1.0"

var (
	cfgFile     string
	listenAddr  string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "magicmirrord",
	Short: "Magic Mirror remote application streaming daemon",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("magicmirrord v%s\n", appVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "/etc/magicmirror/daemon.json", "config file path")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "override listen.addr from config")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9464", "Prometheus metrics listen address")

	viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
	viper.BindPFlag("metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
	viper.SetEnvPrefix("MM")
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon() error {
	cfg, created, err := config.Ensure(cfgFile)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgFile, err)
	}
	if created {
		log.Printf("wrote default config to %s", cfgFile)
	}
	if override := viper.GetString("listen"); override != "" {
		cfg.Listen.Addr = override
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("signal received, shutting down")
		cancel()
	}()

	gpu, err := gpux.Select(ctx, cfg.GPU.RenderNode, cfg.GPU.PreferDiscrete)
	if err != nil {
		return fmt.Errorf("select gpu: %w", err)
	}

	tlsConf, err := loadServerTLS(cfg.Listen.CertFile, cfg.Listen.KeyFile)
	if err != nil {
		return fmt.Errorf("load TLS material: %w", err)
	}

	reg := metrics.New()
	d := daemon.New(cfg, gpu, registeredApps(), reg)
	go d.RunGC(ctx, 10*time.Second)

	if addr := viper.GetString("metrics_addr"); addr != "" {
		go serveMetrics(addr, reg)
	}

	srv := transport.NewServer(cfg.Listen, cfg.Transport, d, reg)
	log.Printf("listening on %s alpn=%s gpu=%s", cfg.Listen.Addr, cfg.Listen.ALPN, gpu.Info.Name)
	return srv.Run(ctx, tlsConf)
}

// registeredApps is the static application registry. spec §4.E names
// list_apps/launch_session but leaves how entries are populated out of
// scope; a richer manifest format (e.g. one JSON file per app bundle) is
// future work.
func registeredApps() []daemon.App {
	return []daemon.App{
		{Name: "terminal", Path: "/bin/sh", Args: []string{"-l"}},
	}
}

func loadServerTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s/%s: %w", certFile, keyFile, err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func serveMetrics(addr string, reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warnf("metrics server stopped: %v", err)
	}
}
