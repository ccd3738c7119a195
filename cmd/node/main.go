// Command node runs a single DFS storage worker: the Chunk Store request
// handler and the Heartbeat Emitter (§4.2-§4.3).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/devraj/shardfs/config"
	"github.com/devraj/shardfs/internal/node"
	"github.com/devraj/shardfs/pkg/env"
	"github.com/devraj/shardfs/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	port := flag.Int("port", 0, "port to bind (0 uses node_port from config, else NodePortsStart)")
	nodeID := flag.String("id", "", "node id (default: auto-generated)")
	flag.Parse()

	env.LoadEnv()
	cfg, err := config.LoadNode(*configPath)
	if err != nil {
		logging.Init("info", "development")
		logging.For("node").WithField("err", err).Fatal("failed to load config")
	}
	logging.Init(cfg.LogLevel, cfg.Env)
	log := logging.For("node")

	id := *nodeID
	if id == "" {
		id = cfg.NodeID
	}
	if id == "" {
		id = "node_" + uuid.NewString()[:8]
	}

	bindPort := *port
	if bindPort == 0 {
		bindPort = cfg.NodePort
	}
	if bindPort == 0 {
		bindPort = cfg.NodePortsStart
	}

	srv, err := node.New(node.Config{
		NodeID:            id,
		Port:              bindPort,
		MasterAddr:        cfg.MasterAddr(),
		StorageRoot:       cfg.StorageRoot,
		ChunkCompression:  cfg.ChunkCompression,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, log)
	if err != nil {
		log.WithField("err", err).Fatal("failed to initialize node")
	}

	fmt.Printf("node %s listening on port %d, reporting to %s\n", id, bindPort, cfg.MasterAddr())
	if err := srv.ListenAndServe(); err != nil {
		log.WithField("err", err).Fatal("node exited")
		os.Exit(1)
	}
}
