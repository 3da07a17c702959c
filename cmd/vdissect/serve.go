package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vuuvv/vdissect"
	"github.com/vuuvv/vdissect/log"
	"github.com/vuuvv/vdissect/tcp"
)

var (
	serveAddress string
	serveMetrics string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Decode live TCP connections",
	Long: `Listen for TCP connections and decode every chunk read from them. Each
connection gets its own session; the listening port selects the dissector
through the tcp.port table (see decode_as and framed in the config).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "Listen address, overrides server.address")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics", "", "Address of the Prometheus metrics endpoint, e.g. :9100")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = &vdissect.Config{}
	}
	server := cfg.Server
	if server == nil {
		server = &tcp.ServerConfig{Address: ":3001"}
	}
	if serveAddress != "" {
		server.Address = serveAddress
	}

	reg, err := vdissect.NewRegistry()
	if err != nil {
		return err
	}
	if err = cfg.Apply(reg); err != nil {
		return err
	}

	var metrics *vdissect.Metrics
	if serveMetrics != "" {
		metrics = vdissect.NewMetrics(nil)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(serveMetrics, mux); err != nil {
				log.Error(err)
			}
		}()
	}

	srv := vdissect.NewTcpServer(server, reg, cfg.SessionOptions(metrics))
	srv.MessageHandle(func(result *tcp.Result) error {
		fmt.Fprintln(cmd.OutOrStdout(), result.Tree.Dump())
		return nil
	})
	if err = srv.Listen(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		log.Info("Shutdown signal received", zap.String("addr", srv.Addr().String()))
		return srv.Stop()
	case err = <-done:
		return err
	}
}
