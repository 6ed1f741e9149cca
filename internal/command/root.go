// Package command はユーザー管理 CLI のコマンドを定義します。
package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/yourusername/demo-security/internal/config"
	"github.com/yourusername/demo-security/internal/security"
)

type settingsKey struct{}

type settings struct {
	dbPath string
	cost   int
	logger *slog.Logger
}

// RootCommand はサブコマンドを登録したルートコマンドを返します。
func RootCommand() *cobra.Command {
	var (
		dbPath string
		cost   int
	)
	cmd := &cobra.Command{
		Use:          "usertool [command] [flags]",
		Short:        "Manage login users",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if !cmd.Flags().Changed("db") {
				dbPath = cfg.DatabasePath
			}
			if !cmd.Flags().Changed("cost") {
				cost = cfg.BcryptCost
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			cmd.SetContext(context.WithValue(cmd.Context(), settingsKey{}, &settings{
				dbPath: dbPath,
				cost:   cost,
				logger: logger,
			}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the SQLite user database (default $DATABASE_PATH)")
	cmd.PersistentFlags().IntVar(&cost, "cost", security.MinCost, "bcrypt cost")

	cmd.AddCommand(
		userCommand(),
		hashCommand(),
	)
	return cmd
}
