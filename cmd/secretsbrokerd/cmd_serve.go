package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jolla/secretsbrokerd/internal/daemon"
)

func cmdServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := fs.Bool("log-json", false, "emit structured JSON logs instead of text")
	addr := fs.String("addr", "", "listen address (overrides SECRETSBROKERD_ADDR)")
	dataDir := fs.String("data-dir", "", "data directory (overrides SECRETSBROKERD_DATA_DIR)")
	fs.Parse(os.Args[2:])

	cfg := daemon.DefaultConfig()
	cfg.LogLevel = *logLevel
	cfg.LogJSON = *logJSON
	if *addr != "" {
		cfg.ListenAddr = *addr
	} else if a := os.Getenv("SECRETSBROKERD_ADDR"); a != "" {
		cfg.ListenAddr = a
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	d, err := daemon.New(cfg)
	if err != nil {
		fatal("starting broker: %v", err)
	}

	ln, err := d.Start()
	if err != nil {
		fatal("listen on %s: %v", cfg.ListenAddr, err)
	}
	fmt.Fprintf(os.Stderr, "secretsbrokerd listening on %s\n", ln.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Fprintln(os.Stderr, "\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		fatal("shutdown: %v", err)
	}
}
