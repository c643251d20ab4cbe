// Command feed-server serves scroll-triggered record feeds to browsers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/scrollfeed/internal/server"
	"github.com/Sternrassler/scrollfeed/pkg/config"
	"github.com/Sternrassler/scrollfeed/pkg/logging"
	"github.com/Sternrassler/scrollfeed/pkg/source"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("Feed server failed")
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("feed-server", flag.ContinueOnError)
	configFile := fs.String("config", os.Getenv("FEED_CONFIG"), "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LoggingConfig())

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}
	return serve(ctx, cfg, ln)
}

// serve runs the host on ln until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	logger := logging.NewLogger("main")

	src, err := source.New(cfg.SourceConfig())
	if err != nil {
		ln.Close()
		return fmt.Errorf("create source: %w", err)
	}

	srvCfg := server.DefaultConfig()
	srvCfg.MaxSessions = cfg.Server.MaxSessions
	srvCfg.SessionIdleTTL = cfg.Server.SessionIdleTTL

	feeds := server.New(src, srvCfg)
	defer feeds.Close()
	feeds.StartReaper()

	httpServer := &http.Server{
		Handler:           feeds.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", ln.Addr().String()).
			Str("url", src.URL()).
			Str("user_agent", cfg.Source.UserAgent).
			Msg("Starting feed server")
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("Shutting down feed server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info().Msg("Feed server stopped")
	return nil
}
