// Command xshm-server runs a single-client channel.Server: it waits for one
// client to complete the handshake, then echoes every received frame back
// and logs each frame's size, following spec §4.5's server half of the endpoint
// state machine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Platon7788/xshm/channel"
	"github.com/Platon7788/xshm/cmd/internal/cliutil"
)

var cmd struct {
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "xshm-server",
	Short: "Run a single-client xshm channel server",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(cmd.ConfigPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the YAML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := cliutil.LoadConfig(configPath)
	if err != nil {
		return err
	}

	zl, err := cliutil.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zl.Sync()
	log := zl.Sugar().Named("server")

	segOpener, evtOpener, err := cliutil.Openers(cfg)
	if err != nil {
		return err
	}

	var srv *channel.Server
	srv, err = channel.Start(segOpener, evtOpener, channel.Config{
		Name:         cfg.ChannelName,
		RingCapacity: uint32(cfg.RingCapacity),
		MaxMessages:  cfg.MaxMessages,
		BufferBytes:  cliutil.ClampedBufferBytes(cfg),
		RecvBatch:    cfg.RecvBatch,
		Logger:       zl.Sugar(),
	}, channel.Callbacks{
		OnMessage: func(payload []byte) {
			log.Infow("received frame, echoing", "bytes", len(payload))
			if err := srv.Send(payload); err != nil {
				log.Errorw("echo failed", "error", err)
			}
		},
		OnDisconnect: func() { log.Info("client disconnected") },
	})
	if err != nil {
		return fmt.Errorf("channel.Start: %w", err)
	}
	defer srv.Stop()

	log.Infow("waiting for client", "channel", cfg.ChannelName, "timeout", cfg.HandshakeTimeout)
	if err := srv.WaitForClient(cfg.HandshakeTimeout); err != nil {
		return fmt.Errorf("WaitForClient: %w", err)
	}
	log.Info("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := srv.Poll(cfg.PollTimeout); err != nil {
				return err
			}
			if srv.State() == channel.Closed {
				return nil
			}
		}
	})
	wg.Go(func() error {
		return waitInterrupted(ctx)
	})

	if err := wg.Wait(); err != nil && ctx.Err() == nil {
		log.Errorw("server loop stopped", "error", err)
	}
	return nil
}

func waitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ch:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}
