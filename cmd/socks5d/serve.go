package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hevsocks/socks5d/internal/buffer"
	"github.com/hevsocks/socks5d/internal/config"
	"github.com/hevsocks/socks5d/internal/metrics"
	"github.com/hevsocks/socks5d/internal/reactor"
	"github.com/hevsocks/socks5d/internal/server"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SOCKS5 proxy",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("[main] %w", err)
	}

	log.Printf("[main] loaded %d listener(s) from %s", len(cfg.Listeners), path)
	log.Printf("[main] GOMAXPROCS: %d", runtime.GOMAXPROCS(0))

	reg := prometheus.NewRegistry()
	mx := metrics.New(reg)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("[main] metrics listening on %s", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("[main] metrics server stopped: %v", err)
			}
		}()
	}

	pool := buffer.NewPool(cfg.BufferSize, 2*cfg.MaxSessions)
	loop := reactor.NewLoop(4096)
	go loop.Run()
	defer loop.Close()

	srvs := make([]*server.Server, 0, len(cfg.Listeners))
	for _, l := range cfg.Listeners {
		ln, err := server.Listen(l.Address, l.Port)
		if err != nil {
			return fmt.Errorf("[main] listen %s:%d: %w", l.Address, l.Port, err)
		}
		srvs = append(srvs, server.New(loop, pool, mx, ln, l.DNSServer, time.Duration(cfg.IdleTimeout), time.Duration(cfg.SweepInterval)))
	}

	log.Println("[main] ─────────────────────────────────────")
	for _, l := range cfg.Listeners {
		log.Printf("[main]   socks5://%s:%-5d  (dns %s)", l.Address, l.Port, l.DNSServer)
	}
	log.Println("[main] ─────────────────────────────────────")
	log.Println("[main] all listeners running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[main] received signal %s, shutting down...", sig)

	for _, srv := range srvs {
		if err := srv.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("[main] error closing listener: %v", err)
		}
	}

	return nil
}
