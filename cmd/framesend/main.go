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

	"github.com/lorcan2440/Mario-Kart-Controller/internal/emulator"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/logging"
)

type options struct {
	addr        string
	dir         string
	replay      string
	loop        bool
	interval    time.Duration
	maxAttempts int
}

func main() {
	def := emulator.DefaultConfig()
	var opts options
	flag.StringVar(&opts.addr, "addr", def.Addr, "kartctl stream address")
	flag.StringVar(&opts.dir, "dir", "", "directory of image frames to send")
	flag.StringVar(&opts.replay, "replay", "", "capture file to replay")
	flag.BoolVar(&opts.loop, "loop", false, "restart from the first frame when done")
	flag.DurationVar(&opts.interval, "interval", 0, "pause between frames")
	flag.IntVar(&opts.maxAttempts, "max-attempts", def.MaxAttempts, "connection attempts; 0 retries forever")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "framesend: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	src, err := openSource(opts)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(logging.ProfileRuntime)
	logging.ApplyEnv(&logCfg)
	log, closer, err := logging.New("framesend", logCfg, os.Stdout)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := emulator.DefaultConfig()
	cfg.Addr = opts.addr
	cfg.MaxAttempts = opts.maxAttempts
	client, err := emulator.Dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()

	stats, err := client.Play(ctx, src, opts.interval)
	log.Info().
		Int("frames", stats.Frames).
		Interface("actions", stats.Actions).
		Dur("elapsed", stats.Elapsed).
		Msg("playback finished")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openSource(opts options) (emulator.Source, error) {
	switch {
	case opts.dir != "" && opts.replay != "":
		return nil, errors.New("use either -dir or -replay, not both")
	case opts.dir != "":
		return emulator.NewDirSource(opts.dir, opts.loop)
	case opts.replay != "":
		return emulator.NewReplaySource(opts.replay, opts.loop)
	default:
		return nil, errors.New("one of -dir or -replay is required")
	}
}
