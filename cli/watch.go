package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/devsupport/bus"
	"github.com/vinayprograms/devsupport/state"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Count      int
	Heartbeats bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print task and work log events as they happen",
		Long: `Subscribe to the change events published by servers with events enabled.
Requires lock.nats_url in the configuration.

Example:
  devsupport watch
  devsupport watch --count 1 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "exit after this many events (0 = until interrupted)")
	cmd.Flags().BoolVar(&opts.Heartbeats, "heartbeats", false, "include server heartbeats")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	out := newOutput(cmd, opts.RootOptions)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if !cfg.Lock.Enabled() {
		return NewExitError(ExitCommandError, "watch requires lock.nats_url")
	}

	conn, err := state.ConnectNATS(state.NATSConnConfig{URL: cfg.Lock.NATSURL, Name: "devsupport watch"})
	if err != nil {
		return WrapExitError(ExitCommandError, "connect nats", err)
	}
	defer conn.Close()

	b := bus.NewNATSBus(conn, bus.DefaultConfig())
	defer b.Close()

	emitter := bus.NewEmitter(b, cfg.Events.Prefix, commandLogger(cmd, opts.RootOptions))
	sub, err := b.Subscribe(emitter.Pattern())
	if err != nil {
		return WrapExitError(ExitCommandError, "subscribe", err)
	}
	defer sub.Unsubscribe()

	return watchEvents(cmd.Context(), sub, out, opts.Count, opts.Heartbeats)
}

// watchEvents prints events from sub until ctx ends, the subscription
// closes or count events have been printed.
func watchEvents(ctx context.Context, sub bus.Subscription, out *output, count int, heartbeats bool) error {
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			ev, err := bus.DecodeEvent(msg)
			if err != nil || (ev.Type == bus.EventHeartbeat && !heartbeats) {
				continue
			}
			if err := out.Result(ev, fmt.Sprintf("%s  %s  %s", ev.At, ev.Type, ev.Data)); err != nil {
				return err
			}
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
	}
}
