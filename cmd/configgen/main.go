package main

import (
	"flag"
	"log"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/config"
)

const defaultPath = "cmd/kartctl/config.toml"

func main() {
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated kartctl config at %s (addr=%s admin=%q capture=%q)",
			*input, cfg.Stream.Addr, cfg.AdminAddr, cfg.CapturePath)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote kartctl config template to %s", *output)
}
