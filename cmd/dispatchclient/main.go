// Command xshm-dispatchclient registers against a dispatch.Server, sends one
// message on its assigned slot, waits for the echo, and disconnects.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Platon7788/xshm/channel"
	"github.com/Platon7788/xshm/cmd/internal/cliutil"
	"github.com/Platon7788/xshm/dispatch"
)

var cmd struct {
	ConfigPath string
	Message    string
}

var rootCmd = &cobra.Command{
	Use:   "xshm-dispatchclient",
	Short: "Register with an xshm dispatch server and round-trip a message on the assigned slot",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(cmd.ConfigPath, cmd.Message)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.Flags().StringVarP(&cmd.Message, "message", "m", "hello", "Payload to send")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, message string) error {
	cfg, err := cliutil.LoadConfig(configPath)
	if err != nil {
		return err
	}

	zl, err := cliutil.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zl.Sync()
	log := zl.Sugar().Named("dispatchclient")

	segOpener, evtOpener, err := cliutil.Openers(cfg)
	if err != nil {
		return err
	}

	replyCh := make(chan []byte, 1)
	cli, err := dispatch.Connect(segOpener, evtOpener, cfg.ChannelName, dispatch.ClientOptions{
		Revision:       cfg.ClientRevision,
		Name:           cfg.ClientName,
		LobbyTimeout:   cfg.HandshakeTimeout,
		ChannelTimeout: cfg.ChannelTimeout,
		RingCapacity:   uint32(cfg.RingCapacity),
		MaxMessages:    cfg.MaxMessages,
		RecvBatch:      cfg.RecvBatch,
		Logger:         zl.Sugar(),
	}, channel.Callbacks{
		OnMessage: func(payload []byte) {
			cp := append([]byte(nil), payload...)
			select {
			case replyCh <- cp:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("dispatch.Connect: %w", err)
	}
	defer cli.Disconnect()

	log.Infow("registered", "slot_id", cli.SlotID)
	if err := cli.Send([]byte(message)); err != nil {
		return fmt.Errorf("Send: %w", err)
	}

	deadline := time.Now().Add(cfg.ChannelTimeout)
	for time.Now().Before(deadline) {
		if err := cli.Poll(time.Millisecond * 50); err != nil {
			return fmt.Errorf("Poll: %w", err)
		}
		select {
		case reply := <-replyCh:
			log.Infow("received reply", "slot_id", cli.SlotID, "payload", string(reply))
			return nil
		default:
		}
	}
	return fmt.Errorf("timed out waiting for reply")
}
