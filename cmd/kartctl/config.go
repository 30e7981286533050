package main

import (
	"strings"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/config"
)

// loadConfig reads path when given and applies flag overrides on top.
func loadConfig(path, addr string) (config.Config, error) {
	cfg := config.DefaultConfig()
	if p := strings.TrimSpace(path); p != "" {
		loaded, err := config.Load(p)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if a := strings.TrimSpace(addr); a != "" {
		cfg.Stream.Addr = a
		if err := config.Validate(cfg); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}
