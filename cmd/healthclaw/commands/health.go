package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the `healthclaw health` command used by container
// health checks. It exits non-zero when the database is unreachable.
func newHealthCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the database is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Knowledge.Enabled = false
			logger := newLogger(cmd, cfg, os.Stderr)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			store, _, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			st := store.Status(ctx)
			out, err := json.Marshal(map[string]any{
				"status":   statusWord(st.Healthy),
				"version":  version,
				"database": st,
			})
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if !st.Healthy {
				return fmt.Errorf("database unhealthy: %s", st.Error)
			}
			return nil
		},
	}
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
