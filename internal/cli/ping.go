package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ammar0144/persist4go/pkg/config"
)

func newPingCommand(out io.Writer, globals *globalOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check database and cache connectivity",
		Example: "  persistctl --config persist4go.yaml ping\n" +
			"  PERSIST4GO_DRIVER=sqlite PERSIST4GO_SQLITE_DSN=app.db persistctl ping",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("ping does not accept positional arguments")
			}
			cfg, err := loadConfig(globals)
			if err != nil {
				return err
			}

			stack, err := config.Open(cfg)
			if err != nil {
				return mapCommandError(err)
			}
			defer stack.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			started := time.Now()
			if err := stack.Ping(ctx); err != nil {
				return mapCommandError(err)
			}
			elapsed := time.Since(started)

			payload := map[string]any{
				"driver":     cfg.Driver,
				"database":   "ok",
				"cache":      boolToState(cfg.Cache.Enabled, "ok", "disabled"),
				"elapsed_ms": elapsed.Milliseconds(),
			}
			if globals.JSON {
				return printJSON(out, payload)
			}
			_, err = fmt.Fprintf(out, "driver=%s database=ok cache=%s elapsed=%s\n",
				cfg.Driver, payload["cache"], elapsed.Round(time.Millisecond))
			return mapCommandError(err)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Connectivity check timeout")
	return cmd
}

func boolToState(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
