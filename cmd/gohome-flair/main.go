package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/gohome-flair/internal/config"
	"github.com/joshp123/gohome-flair/internal/flair"
	"github.com/joshp123/gohome-flair/internal/history"
	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/mqttbridge"
	"github.com/joshp123/gohome-flair/internal/oauth"
	"github.com/joshp123/gohome-flair/internal/rate"
	"github.com/joshp123/gohome-flair/internal/server"
	"github.com/joshp123/gohome-flair/internal/snapshot"
	"github.com/joshp123/gohome-flair/internal/thermostat"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml or /etc/gohome-flair/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Get(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalw("gohome-flair stopped", "err", err)
	}
	log.Info("gohome-flair stopped")
}

func run(ctx context.Context, cfg config.Config, log *logging.Logger) error {
	tokenURL := cfg.Flair.TokenURL
	if tokenURL == "" {
		tokenURL = flair.TokenURL(cfg.Flair.BaseURL)
	}
	scope := cfg.Flair.Scope
	if scope == "" {
		scope = flair.DefaultScope
	}
	tokens, err := oauth.NewManager(
		oauth.Declaration{Provider: "flair", TokenURL: tokenURL, Scope: scope},
		oauth.Credentials{
			ClientID:     cfg.Flair.ClientID,
			ClientSecret: cfg.Flair.ClientSecret,
			Username:     cfg.Flair.Username,
			Password:     cfg.Flair.Password,
		},
	)
	if err != nil {
		return fmt.Errorf("oauth: %w", err)
	}
	tokens.Start(ctx)

	guard := rate.NewGuard(rate.Provider("flair").
		MaxRequestsPer(rate.Minute, cfg.Rate.PerMinute).
		MaxRequestsPer(rate.Day, cfg.Rate.PerDay).
		RetryAfterHeader("Retry-After").
		CooldownOn429(time.Minute))
	client := flair.NewClient(flair.Config{BaseURL: cfg.Flair.BaseURL, Logger: log}, tokens, guard)

	snapshots, err := openSnapshots(cfg.Snapshot, log)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	hub := server.NewHub(log)
	publishers := thermostat.Publishers{hub}

	sink, err := history.Connect(cfg.Influx, log)
	switch {
	case errors.Is(err, history.ErrDisabled):
	case err != nil:
		return fmt.Errorf("influx: %w", err)
	default:
		defer sink.Close()
		publishers = append(publishers, sink)
	}

	// The bridge needs the platform as its commander and the platform needs
	// the bridge as a publisher, so the bridge is attached through a func.
	var bridge *mqttbridge.Bridge
	publishers = append(publishers, thermostat.PublisherFunc(func(ctx context.Context, u thermostat.StateUpdate) {
		if bridge != nil {
			bridge.Publish(ctx, u)
		}
	}))

	platformOpts := thermostat.Options{
		PollInterval: cfg.PollIntervalDuration(),
		Logger:       log,
	}
	if snapshots != nil {
		platformOpts.Snapshots = snapshots
	}
	platform := thermostat.NewPlatform(client, publishers, platformOpts)
	defer platform.Close()

	if cfg.MQTT.Enabled {
		bridge, err = mqttbridge.Connect(cfg.MQTT, platform, log)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer bridge.Close()
	}

	if n, err := platform.Restore(ctx); err != nil {
		log.Warnw("snapshot restore failed", "err", err)
	} else if n > 0 {
		log.Infow("restored devices", "count", n)
	}
	if err := platform.Discover(ctx); err != nil {
		// Restored devices keep polling; the next discovery pass retries.
		log.Errorw("initial discovery failed", "err", err)
	}

	collectors := []prometheus.Collector{thermostat.NewStateCollector(platform)}
	collectors = append(collectors, thermostat.MetricsCollectors()...)
	collectors = append(collectors, rate.MetricsCollectors()...)
	collectors = append(collectors, oauth.MetricsCollectors()...)
	collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gohome_flair_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	registry, err := server.NewRegistry(collectors...)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg.GRPCAddr, platform)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	api := server.NewAPI(platform, hub, log)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, server.NewRouter(api, server.MetricsHandler(registry)))

	log.Infow("gohome-flair started",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"devices", len(platform.States()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		platform.RunDiscovery(gctx, cfg.DiscoveryIntervalDuration())
		return nil
	})
	g.Go(func() error {
		return httpServer.Run(gctx)
	})
	g.Go(func() error {
		return grpcServer.Serve()
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcServer.Server.GracefulStop()
		return nil
	})
	return g.Wait()
}

func openSnapshots(cfg config.SnapshotConfig, log *logging.Logger) (*snapshot.Store, error) {
	var blob snapshot.BlobStore
	switch cfg.Backend {
	case "file":
		fs, err := snapshot.NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		blob = fs
	case "s3":
		s3, err := snapshot.NewS3Store(snapshot.S3Options{
			Endpoint:      cfg.Endpoint,
			Bucket:        cfg.Bucket,
			Prefix:        cfg.Prefix,
			Region:        cfg.Region,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			AccessKeyFile: cfg.AccessKeyFile,
			SecretKeyFile: cfg.SecretKeyFile,
		})
		if err != nil {
			return nil, err
		}
		blob = s3
	default:
		return nil, nil
	}
	return snapshot.NewStore(blob, log), nil
}
