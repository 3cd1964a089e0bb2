// Command xshm-dispatchserver runs a dispatch.Server: a lobby that assigns
// clients to pre-created slot channels and echoes messages per-slot, per
// spec §4.6.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Platon7788/xshm/cmd/internal/cliutil"
	"github.com/Platon7788/xshm/dispatch"
)

var cmd struct {
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "xshm-dispatchserver",
	Short: "Run a multi-client xshm dispatch server",
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
	log := zl.Sugar().Named("dispatchserver")

	segOpener, evtOpener, err := cliutil.Openers(cfg)
	if err != nil {
		return err
	}

	var srv *dispatch.Server
	srv, err = dispatch.Start(segOpener, evtOpener, cfg.ChannelName, dispatch.Options{
		MaxClients:     cfg.MaxClients,
		LobbyTimeout:   cfg.HandshakeTimeout,
		ChannelTimeout: cfg.ChannelTimeout,
		RingCapacity:   uint32(cfg.RingCapacity),
		MaxMessages:    cfg.MaxMessages,
		RecvBatch:      cfg.RecvBatch,
		Logger:         zl.Sugar(),
	}, dispatch.Callbacks{
		OnClientConnect: func(slotID, pid uint32, revision uint16, name string) {
			log.Infow("client registered", "request_id", uuid.New(), "slot_id", slotID, "pid", pid, "revision", revision, "name", name)
		},
		OnClientDisconnect: func(slotID uint32) {
			log.Infow("client disconnected", "slot_id", slotID)
		},
		OnMessage: func(slotID uint32, payload []byte) {
			if err := srv.Send(slotID, payload); err != nil {
				log.Errorw("echo failed", "slot_id", slotID, "error", err)
			}
		},
		OnError: func(err error) {
			log.Errorw("dispatch error", "error", err)
		},
		OnOverflow: func(slotID uint32, direction string, dropped uint32) {
			log.Warnw("ring overflow", "slot_id", slotID, "direction", direction, "dropped", dropped)
		},
	})
	if err != nil {
		return fmt.Errorf("dispatch.Start: %w", err)
	}
	defer srv.Close()

	log.Infow("dispatch server ready", "base", cfg.ChannelName, "max_clients", cfg.MaxClients)

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
			if err := srv.AcceptOnce(); err != nil {
				return err
			}
			for _, slotID := range srv.OccupiedSlots() {
				if err := srv.PumpSlot(slotID, cfg.PollTimeout); err != nil {
					log.Errorw("pump failed", "slot_id", slotID, "error", err)
				}
			}
		}
	})
	wg.Go(func() error {
		return waitInterrupted(ctx)
	})

	if err := wg.Wait(); err != nil && ctx.Err() == nil {
		log.Errorw("dispatch server loop stopped", "error", err)
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
