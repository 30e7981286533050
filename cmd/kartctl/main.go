package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/bridge"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to kartctl TOML config (optional)")
	addr := flag.String("addr", "", "override the stream listen address")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "kartctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := loadConfig(configPath, addr)
	if err != nil {
		return err
	}
	logging.ApplyEnv(&cfg.Logging)
	log, closer, err := logging.New("kartctl", cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer closer.Close()

	svc, err := bridge.NewService(cfg, log)
	if err != nil {
		return err
	}
	return svc.Run()
}
