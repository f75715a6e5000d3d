package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/fluent/internal/app"
	"github.com/JonMunkholm/fluent/internal/core"
)

type watchOptions struct {
	selects []string
	filters []string
	once    bool
	decrypt bool
	timeout time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <entity>",
		Short: "Show a live query as a table",
		Long: `Open a live query and re-render it whenever the data changes.

Filters are field=value pairs; values are converted to the column type.

  fluentctl watch inventory_items --filter category=Brakes
  fluentctl watch customers --select id,email,encrypted_name --decrypt --once`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, rootOpts, opts, core.Entity(args[0]))
		},
	}

	cmd.Flags().StringSliceVarP(&opts.selects, "select", "s", nil, "columns to show (default: all)")
	cmd.Flags().StringArrayVarP(&opts.filters, "filter", "f", nil, "equality filter field=value (repeatable)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "print the current rows once and exit")
	cmd.Flags().BoolVar(&opts.decrypt, "decrypt", false, "decrypt encrypted_* columns")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "how long --once waits for data")

	return cmd
}

// buildDescriptor turns the watch flags into a query descriptor.
func buildDescriptor(def core.EntityDefinition, selects, filters []string) (core.QueryDescriptor, error) {
	d := core.NewQuery(def.Name)
	if len(selects) > 0 {
		d = d.Select(selects...)
	}
	for _, f := range filters {
		field, raw, ok := strings.Cut(f, "=")
		if !ok || field == "" {
			return core.QueryDescriptor{}, fmt.Errorf("invalid filter %q: want field=value", f)
		}
		v, err := def.ParseValue(field, raw)
		if err != nil {
			return core.QueryDescriptor{}, err
		}
		d = d.Where(field, v)
	}
	return d, nil
}

func runWatch(cmd *cobra.Command, rootOpts *RootOptions, opts *watchOptions, entity core.Entity) error {
	def, ok := core.Lookup(entity)
	if !ok {
		return fmt.Errorf("unknown entity %q", entity)
	}
	d, err := buildDescriptor(def, opts.selects, opts.filters)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Layer.Open(ctx, d.Live(!opts.once))
	if err != nil {
		return err
	}
	defer res.Close()

	columns := tableColumns(def, d.Columns())
	render := func(snap core.Snapshot) (string, error) {
		if opts.decrypt {
			snap.Rows = decryptRows(ctx, a.GDPR, snap.Rows)
		}
		return renderSnapshot(def, columns, snap)
	}

	if opts.once {
		waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()

		snap, err := res.Await(waitCtx)
		if err != nil {
			return err
		}
		if snap.Err != nil {
			return fmt.Errorf("%s", core.FormatUserError(snap.Err))
		}
		out, err := render(snap)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}

	area, err := pterm.DefaultArea.Start()
	if err != nil {
		return fmt.Errorf("start live area: %w", err)
	}
	defer area.Stop()

	update := func() error {
		out, err := render(res.Snapshot())
		if err != nil {
			return err
		}
		area.Update(out)
		return nil
	}
	if err := update(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-res.Updates():
			if !ok {
				return nil
			}
			if err := update(); err != nil {
				return err
			}
		}
	}
}

// decryptRows returns copies of rows with encrypted_* values decrypted.
func decryptRows(ctx context.Context, gdpr *core.GDPRService, rows []core.Row) []core.Row {
	out := make([]core.Row, len(rows))
	for i, r := range rows {
		c := r.Clone()
		for k, v := range c {
			if s, ok := v.(string); ok && strings.HasPrefix(k, "encrypted_") {
				c[k] = gdpr.DecryptField(ctx, s)
			}
		}
		out[i] = c
	}
	return out
}
