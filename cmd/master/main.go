// Command master runs the DFS coordinator: Registry, Namespace, Failure
// Detector, and Replication Engine behind one accept loop (§4.4-§4.7).
package main

import (
	"flag"
	"os"
	"time"

	"github.com/devraj/shardfs/config"
	"github.com/devraj/shardfs/internal/master"
	"github.com/devraj/shardfs/internal/namespace"
	"github.com/devraj/shardfs/pkg/env"
	"github.com/devraj/shardfs/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	env.LoadEnv()
	cfg, err := config.LoadMaster(*configPath)
	if err != nil {
		logging.Init("info", "development")
		logging.For("master").WithField("err", err).Fatal("failed to load config")
	}
	logging.Init(cfg.LogLevel, cfg.Env)
	log := logging.For("master")

	ns := namespace.New(cfg.MetadataPath)
	if err := ns.Load(); err != nil {
		log.WithField("err", err).Fatal("failed to load metadata")
	}

	srv := master.New(master.Config{
		BlockSize:         cfg.BlockSize,
		ReplicationFactor: cfg.ReplicationFactor,
		NodeTimeout:       cfg.NodeTimeout,
		FailureTick:       time.Duration(cfg.FailureTickMS) * time.Millisecond,
	}, ns, log)

	addr := cfg.MasterAddr()
	if err := srv.ListenAndServe(addr); err != nil {
		log.WithField("err", err).Fatal("master exited")
		os.Exit(1)
	}
}
