// Command xacoord boots the coordinator as a standalone process: it loads Configuration from a
// JSON file, opens the Transaction Manager, registers the demo resource adapters, and serves the
// admin HTTP surface.
package main

import (
	"context"
	"flag"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sharedcode/xacoord"
	"github.com/sharedcode/xacoord/adminapi"
	"github.com/sharedcode/xacoord/internal/xa"
	"github.com/sharedcode/xacoord/resource/cassandra"
	"github.com/sharedcode/xacoord/resource/redisqueue"
	"github.com/sharedcode/xacoord/resource/s3object"
	"github.com/sharedcode/xacoord/txmanager"
)

func main() {
	configFile := flag.String("config", "", "path to a JSON Configuration file; defaults are used if omitted")
	flag.Parse()

	cfg := xacoord.DefaultConfiguration()
	if *configFile != "" {
		loaded, err := xacoord.LoadConfiguration(*configFile)
		if err != nil {
			log.Error("failed to load configuration", "file", *configFile, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	mgr, err := txmanager.New(cfg)
	if err != nil {
		log.Error("failed to start transaction manager", "error", err)
		os.Exit(1)
	}

	registerDemoResources(mgr, cfg)

	var server *http.Server
	if cfg.AdminAPIAddr != "" {
		engine := adminapi.New(adminapi.Config{
			AuthEnabled:   cfg.AdminAPIAuthEnabled,
			OktaIssuer:    cfg.AdminAPIOktaIssuer,
			OktaAud:       cfg.AdminAPIOktaAud,
			DefaultFilter: cfg.FilterLogStatus,
		}, mgr, mgr)
		server = &http.Server{Addr: cfg.AdminAPIAddr, Handler: engine}
		go func() {
			log.Info("admin api listening", "addr", cfg.AdminAPIAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("admin api server stopped", "error", err)
			}
		}()
	}

	waitForShutdownSignal()

	if server != nil {
		if err := server.Shutdown(context.Background()); err != nil {
			log.Warn("admin api graceful shutdown failed", "error", err)
		}
	}
	if err := mgr.Shutdown(); err != nil {
		log.Warn("transaction manager shutdown reported an error", "error", err)
	}
}

// registerDemoResources wires up the three example resource adapters carried in this repo
// . A production deployment would instead register the pools its own application needs.
func registerDemoResources(mgr *txmanager.Manager, cfg xacoord.Configuration) {
	if v, ok := cfg.Overrides["cassandra.hosts"]; ok && v != "" {
		cassRes, err := cassandra.Open(cassandra.Config{
			Hosts:        []string{v},
			Keyspace:     cfg.Overrides["cassandra.keyspace"],
			Table:        "xa_committed",
			StagingTable: "xa_staging",
		})
		if err != nil {
			log.Warn("cassandra resource unavailable, skipping registration", "error", err)
		} else {
			mgr.Registry().Register(cassandra.NewProducer(xa.Bean{
				UniqueName:            "cassandra-store",
				TwoPcOrderingPosition: 0,
			}, cassRes))
		}
	}

	if v, ok := cfg.Overrides["redis.addr"]; ok && v != "" {
		redisRes := redisqueue.Open(redisqueue.Config{
			Addr:      v,
			Queue:     "xa-queue",
			StagePref: "xa-stage:",
		})
		mgr.Registry().Register(redisqueue.NewProducer(xa.Bean{
			UniqueName:            "redis-queue",
			TwoPcOrderingPosition: 0,
		}, redisRes))
	}

	if v, ok := cfg.Overrides["s3.bucket"]; ok && v != "" {
		s3Res := s3object.Open(s3object.Config{
			HostEndpointURL: cfg.Overrides["s3.endpoint"],
			Region:          cfg.Overrides["s3.region"],
			Username:        cfg.Overrides["s3.username"],
			Password:        cfg.Overrides["s3.password"],
			Bucket:          v,
		})
		mgr.Registry().Register(s3object.NewProducer(xa.Bean{
			UniqueName:            "s3-object-store",
			TwoPcOrderingPosition: 1 << 30, // ordered after the position-0 resources above: a last-resource-commit participant.
		}, s3Res))
	}
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
