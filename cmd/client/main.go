// Command client is a small flag-based CLI over the Master's client-facing
// protocol: upload, download, list, delete, stats. Grounded on the teacher's
// cmd/cli/main.go command-dispatch style and original_source/client_app.py's
// DFSClient command set, minus the GUI wrapper (§1 Non-goal).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/devraj/shardfs/config"
	"github.com/devraj/shardfs/internal/client"
	"github.com/devraj/shardfs/pkg/env"
	"github.com/devraj/shardfs/pkg/logging"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  client upload <local-path>
  client download <filename> <save-path>
  client list
  client delete <filename>
  client stats`)
}

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	env.LoadEnv()
	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		logging.Init("info", "development")
		logging.For("client").WithField("err", err).Fatal("failed to load config")
	}
	logging.Init(cfg.LogLevel, cfg.Env)
	log := logging.For("client")

	c := client.New(cfg.MasterAddr(), cfg.BlockSize, log)

	cmd := args[0]
	switch cmd {
	case "upload":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := c.UploadFile(args[1]); err != nil {
			log.WithField("err", err).Fatal("upload failed")
		}
		fmt.Println("upload complete")

	case "download":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		if err := c.DownloadFile(args[1], args[2]); err != nil {
			log.WithField("err", err).Fatal("download failed")
		}
		fmt.Println("download complete")

	case "list":
		files, err := c.ListFiles()
		if err != nil {
			log.WithField("err", err).Fatal("list failed")
		}
		if len(files) == 0 {
			fmt.Println("no files")
			return
		}
		for _, f := range files {
			fmt.Printf("%-30s %12d bytes  %s\n", f.Filename, f.Size, f.Status)
		}

	case "delete":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := c.DeleteFile(args[1]); err != nil {
			log.WithField("err", err).Fatal("delete failed")
		}
		fmt.Println("deleted")

	case "stats":
		resp, err := c.GetStats()
		if err != nil {
			log.WithField("err", err).Fatal("stats failed")
		}
		for id, rec := range resp.Nodes {
			fmt.Printf("%-12s %-21s %-8s cpu=%.1f%% ram=%.1f%% disk=%.1f%% last_heartbeat=%s\n",
				id, rec.Address.String(), rec.Status, rec.Stats.CPUPercent, rec.Stats.RAMPercent, rec.Stats.DiskPercent, rec.LastHeartbeat)
		}

	default:
		usage()
		os.Exit(2)
	}
}
