package rq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Module exposes the rq command. Add it with c.AddModuleFunc(rq.New).
type Module struct {
	maker BusMaker
}

// New creates a Module.
func New(maker BusMaker) Module {
	return Module{maker: maker}
}

// ProvideCommand implements container.CommandProvider.
func (m Module) ProvideCommand(command *cobra.Command) {
	command.AddCommand(NewCommand(m.maker))
}

// NewCommand returns the rq command for operating on the named buses of maker.
func NewCommand(maker BusMaker) *cobra.Command {
	var busName string
	cmd := &cobra.Command{
		Use:   "rq",
		Short: "Inspect and operate reliable queues",
	}
	cmd.PersistentFlags().StringVarP(&busName, "bus", "b", "default", "the name of the bus")

	withBus := func(f func(ctx context.Context, cmd *cobra.Command, bus *Bus, args []string) error) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			bus, err := maker.Make(busName)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return f(ctx, cmd, bus, args)
		}
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print the length of the ready list, the in-flight list, the pending hash and the malformed list",
		Args:  cobra.NoArgs,
		RunE: withBus(func(ctx context.Context, cmd *cobra.Command, bus *Bus, args []string) error {
			info, err := bus.Queue().Info(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue: %s\nready: %d\ninflight: %d\npending: %d\nmalformed: %d\n",
				bus.Queue().Keys().Ready, info.Ready, info.InFlight, info.Pending, info.Malformed)
			return nil
		}),
	}

	var timeout time.Duration
	sendCmd := &cobra.Command{
		Use:   "send <json>",
		Short: "Send a JSON payload and print the message id",
		Args:  cobra.ExactArgs(1),
		RunE: withBus(func(ctx context.Context, cmd *cobra.Command, bus *Bus, args []string) error {
			if !json.Valid([]byte(args[0])) {
				return fmt.Errorf("payload is not valid JSON: %s", args[0])
			}
			id, err := bus.Send(ctx, json.RawMessage(args[0]), timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	sendCmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "acknowledgement deadline, defaults to the bus configuration")

	reclaimCmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Run one reclaim scan and print how many messages were requeued",
		Args:  cobra.NoArgs,
		RunE: withBus(func(ctx context.Context, cmd *cobra.Command, bus *Bus, args []string) error {
			n, err := bus.Reclaimer().Scan(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed: %d\n", n)
			return nil
		}),
	}

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Move every in-flight message back to the ready list",
		Args:  cobra.NoArgs,
		RunE: withBus(func(ctx context.Context, cmd *cobra.Command, bus *Bus, args []string) error {
			n, err := bus.Queue().Reload(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reloaded: %d\n", n)
			return nil
		}),
	}

	flushCmd := &cobra.Command{
		Use:   "flush",
		Short: "Delete every message of the queue",
		Args:  cobra.NoArgs,
		RunE: withBus(func(ctx context.Context, cmd *cobra.Command, bus *Bus, args []string) error {
			if err := bus.Queue().Flush(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "flushed")
			return nil
		}),
	}

	cmd.AddCommand(infoCmd, sendCmd, reclaimCmd, reloadCmd, flushCmd)
	return cmd
}
