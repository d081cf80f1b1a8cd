package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/persistence"
)

// Notes/constraints:
// - The registry DDL is embedded and idempotent; rerunning bootstrap is safe.
// - Tenant (MySQL) databases are not touched here; they are created per world by `world create`.

// Command groups bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap platform resources (world registry)",
		Long:  "Bootstrap platform resources such as the worlds schema and the game server registry table.",
	}

	cmd.AddCommand(registryCommand())
	return cmd
}

func registryCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "registry",
		Short: "Create the worlds schema and game_servers table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
				ConnString:      databaseURL,
				ApplicationName: "worlds-bootstrap",
				PingTimeout:     10 * time.Second,
			})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapRegistry(ctx, pool); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Bootstrap complete. Registry table worlds.game_servers is ready.")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (defaults to $DATABASE_URL)")
	return c
}
