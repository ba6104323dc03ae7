package crawlctl

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/northcloud/crawlctl/internal/logging"
)

// migrationsPath mirrors the teacher click-tracker's migrate command:
// a file:// source pointing at the versioned SQL files shipped
// alongside the binary.
const migrationsPath = "file://internal/store/migrations"

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back database schema migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			direction := args[0]
			if direction != "up" && direction != "down" {
				return fmt.Errorf("invalid direction %q: must be \"up\" or \"down\"", direction)
			}

			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			m, err := migrate.New(migrationsPath, cfg.Database.URL())
			if err != nil {
				return fmt.Errorf("create migrate instance: %w", err)
			}
			defer func() { _, _ = m.Close() }()

			switch direction {
			case "up":
				err = m.Up()
			case "down":
				err = m.Down()
			}
			if errors.Is(err, migrate.ErrNoChange) {
				log.Info("migrate: no migrations to apply")
				return nil
			}
			if err != nil {
				return fmt.Errorf("migration %s failed: %w", direction, err)
			}
			log.Info("migrate: completed", logging.String("direction", direction))
			return nil
		},
	}
	return cmd
}
