// main package for the HTTP request/response synthesis variant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voxlane/tts-worker/internal/config"
	"github.com/voxlane/tts-worker/internal/convert"
	"github.com/voxlane/tts-worker/internal/httpapi"
	"github.com/voxlane/tts-worker/internal/logging"
	"github.com/voxlane/tts-worker/internal/modelcache"
	"github.com/voxlane/tts-worker/internal/synth"
)

const shutdownTimeout = 10 * time.Second

func run() error {
	configPath := flag.String("config", "", "optional path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := modelcache.NewHTTPFetcher(cfg.Models.BaseURL, cfg.Models.Dir, log)
	models := modelcache.NewManager(fetcher, cfg.Models.FetchRetries, log)

	engine := synth.NewEngine(synth.Options{
		PiperPath:     cfg.Synthesis.PiperPath,
		MaxConcurrent: cfg.Synthesis.MaxConcurrent,
		MaxFaults:     cfg.Synthesis.MaxFaults,
	}, models, log)

	err = models.Preload(ctx, cfg.Models.DefaultVoice)
	if err != nil {
		log.Warn().Err(err).Msg("default voice preload failed")
	}

	converter := convert.New("", log)
	api := httpapi.NewServer(models, engine, converter, cfg.Models.DefaultVoice, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api.RegisterRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- server.ListenAndServe()
	}()

	log.Info().Str("addr", server.Addr).Msg("synthesis server listening")

	select {
	case err = <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
