package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/qrrelay/qrrelay/agent/internal/config"
	"github.com/qrrelay/qrrelay/agent/internal/shipper"
)

// The agent reads raw check-in codes, one per line, from stdin or -input and
// forwards them to qrrelay-server. Handheld scanners in keyboard mode type
// exactly such lines.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	inputPath := flag.String("input", "", "read scans from this file instead of stdin")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("qrrelay-agent starting",
		"server_url", cfg.Agent.ServerURL,
		"buffer_size", cfg.Agent.BufferSize,
		"auth_mode", cfg.Agent.ServerAuth.Mode,
	)

	var in io.Reader = os.Stdin
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			slog.Error("failed to open input", "path", *inputPath, "err", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ship := shipper.New(cfg.Agent)
	ship.OnAccepted(func(r shipper.Result) {
		fmt.Fprintln(os.Stdout, r.Redirect)
	})

	done := make(chan struct{})
	go func() {
		ship.Run(ctx)
		close(done)
	}()

	// Reading blocks on stdin, so it runs apart from the signal wait.
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				ship.Ship(line)
			}
		}
		if err := sc.Err(); err != nil {
			slog.Error("read scans", "err", err)
		}
		ship.Close()
	}()

	<-done
	slog.Info("qrrelay-agent shutting down")
}
