// Command xshm-bench measures one-way (client to server) throughput of a
// channel.Server/channel.Client pair over the in-process MemOpener backing,
// in the spirit of the teacher's disruptor throughput benchmarks: a tight
// send/poll loop with a wall-clock timer wrapped around it.
package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Platon7788/xshm/channel"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/segment"
)

var cmd struct {
	Duration     time.Duration
	MessageSize  int
	RingCapacity uint32
	MaxMessages  uint32
}

var rootCmd = &cobra.Command{
	Use:   "xshm-bench",
	Short: "Measure xshm channel one-way (client to server) throughput",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(cmd.Duration, cmd.MessageSize, cmd.RingCapacity, cmd.MaxMessages)
	},
}

func init() {
	rootCmd.Flags().DurationVarP(&cmd.Duration, "duration", "d", 2*time.Second, "How long to run the benchmark")
	rootCmd.Flags().IntVarP(&cmd.MessageSize, "message-size", "s", 64, "Payload size in bytes")
	rootCmd.Flags().Uint32VarP(&cmd.RingCapacity, "ring-capacity", "r", 1<<20, "Per-direction ring capacity (power of two)")
	rootCmd.Flags().Uint32VarP(&cmd.MaxMessages, "max-messages", "n", 500, "MAX_MESSAGES saturation bound")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(duration time.Duration, messageSize int, ringCapacity, maxMessages uint32) error {
	logger := zap.NewNop().Sugar()

	segOpener := segment.NewMemOpener()
	evtOpener := event.NewMemOpener()

	var received uint64

	srv, err := channel.Start(segOpener, evtOpener, channel.Config{
		Name:         "xshm-bench",
		RingCapacity: ringCapacity,
		MaxMessages:  maxMessages,
		Logger:       logger,
	}, channel.Callbacks{
		OnMessage: func(payload []byte) {
			atomic.AddUint64(&received, 1)
		},
	})
	if err != nil {
		return fmt.Errorf("channel.Start: %w", err)
	}
	defer srv.Stop()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- srv.WaitForClient(5 * time.Second)
	}()

	cli, err := channel.Connect(segOpener, evtOpener, channel.Config{
		Name:         "xshm-bench",
		RingCapacity: ringCapacity,
		MaxMessages:  maxMessages,
		Logger:       logger,
	}, channel.Callbacks{}, 5*time.Second)
	if err != nil {
		return fmt.Errorf("channel.Connect: %w", err)
	}
	defer cli.Disconnect()

	if err := <-doneCh; err != nil {
		return fmt.Errorf("WaitForClient: %w", err)
	}

	stop := make(chan struct{})
	go func() {
		deadline := time.Now().Add(duration)
		for time.Now().Before(deadline) {
			srv.Poll(10 * time.Millisecond)
		}
		close(stop)
	}()

	payload := make([]byte, messageSize)
	var sent uint64
	start := time.Now()
loop:
	for {
		select {
		case <-stop:
			break loop
		default:
		}
		if err := cli.Send(payload); err == nil {
			sent++
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("sent=%d received=%d elapsed=%s msgs/sec=%.0f\n",
		sent, atomic.LoadUint64(&received), elapsed, float64(atomic.LoadUint64(&received))/elapsed.Seconds())
	return nil
}
