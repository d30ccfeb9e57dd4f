// main package for the broker-driven tts-worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxlane/tts-worker/internal/broker"
	"github.com/voxlane/tts-worker/internal/config"
	"github.com/voxlane/tts-worker/internal/logging"
	"github.com/voxlane/tts-worker/internal/modelcache"
	"github.com/voxlane/tts-worker/internal/objectstore"
	"github.com/voxlane/tts-worker/internal/synth"
	"github.com/voxlane/tts-worker/internal/worker"
)

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

	publisher, err := objectstore.New(objectstore.Options{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		Bucket:         cfg.S3.Bucket,
		KeyPrefix:      cfg.S3.KeyPrefix,
		ForcePathStyle: cfg.S3.ForcePathStyle,
		UploadRetries:  cfg.S3.UploadRetries,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create object store publisher: %w", err)
	}

	// The default voice is resolved before intake starts, so the common
	// first job pays no cold-start latency. A failure here is not fatal;
	// the voice is retried on first use.
	err = models.Preload(ctx, cfg.Models.DefaultVoice)
	if err != nil {
		log.Warn().Err(err).Msg("default voice preload failed")
	}

	adapter := broker.New(broker.Options{
		Host:              cfg.MQTT.Host,
		Port:              cfg.MQTT.Port,
		ClientID:          cfg.MQTT.ClientID,
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		JobTopic:          cfg.MQTT.JobTopic,
		OutcomeTopic:      cfg.MQTT.OutcomeTopic,
		ActionTopicPrefix: cfg.MQTT.ActionTopicPrefix,
	}, log)

	err = adapter.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	defer adapter.Close()

	coordinator := worker.New(adapter.Jobs(), models, engine, publisher, adapter, worker.Options{
		PoolSize:     cfg.Worker.PoolSize,
		JobTimeout:   cfg.Worker.JobTimeout,
		DefaultVoice: cfg.Models.DefaultVoice,
	}, log)

	return coordinator.Run(ctx)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
