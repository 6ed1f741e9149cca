package command

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/yourusername/demo-security/internal/security"
	"github.com/yourusername/demo-security/internal/users"
)

func userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User commands",
	}
	cmd.AddCommand(
		userCreateCommand(),
		userPasswordCommand(),
		userEnableCommand(true),
		userEnableCommand(false),
		userDeleteCommand(),
	)
	return cmd
}

func userCreateCommand() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create user",
		Long: "Creates a user with the given roles. Passwords may be provided via\n" +
			"stdin or through the interactive prompt.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (runErr error) {
			s, repo, closeDB, err := openRepository(cmd)
			if err != nil {
				return err
			}
			defer func() { runErr = errors.Join(runErr, closeDB()) }()

			name := args[0]
			passwd, err := prompt(cmd, "password: ", true)
			if err != nil {
				return err
			}
			if _, err := users.Register(cmd.Context(), repo, security.NewBcryptHasher(s.cost), name, string(passwd), roles...); err != nil {
				return err
			}

			s.logger.InfoContext(cmd.Context(), "created user", slog.String("name", name), slog.Any("roles", roles))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&roles, "role", []string{security.RoleUser}, "role to grant (repeatable)")
	return cmd
}

func userPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd NAME",
		Short: "Change user password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (runErr error) {
			s, repo, closeDB, err := openRepository(cmd)
			if err != nil {
				return err
			}
			defer func() { runErr = errors.Join(runErr, closeDB()) }()

			name := args[0]
			passwd, err := prompt(cmd, "new password: ", true)
			if err != nil {
				return err
			}
			if len(passwd) == 0 {
				return errors.New("password is required")
			}
			hash, err := security.NewBcryptHasher(s.cost).Hash(string(passwd))
			if err != nil {
				return err
			}
			if err := repo.UpdatePassword(cmd.Context(), name, hash); err != nil {
				return err
			}
			s.logger.InfoContext(cmd.Context(), "password changed", slog.String("name", name))
			return nil
		},
	}
}

func userEnableCommand(enabled bool) *cobra.Command {
	use, short := "disable NAME", "Disable user login"
	if enabled {
		use, short = "enable NAME", "Enable user login"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (runErr error) {
			s, repo, closeDB, err := openRepository(cmd)
			if err != nil {
				return err
			}
			defer func() { runErr = errors.Join(runErr, closeDB()) }()

			if err := repo.SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			s.logger.InfoContext(cmd.Context(), "user updated", slog.String("name", args[0]), slog.Bool("enabled", enabled))
			return nil
		},
	}
}

func userDeleteCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete user",
		Long:  "Permanently deletes the user. This operation is irreversible.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (runErr error) {
			s, repo, closeDB, err := openRepository(cmd)
			if err != nil {
				return err
			}
			defer func() { runErr = errors.Join(runErr, closeDB()) }()

			name := args[0]
			logger := s.logger.With(slog.String("name", name))
			if _, err := repo.GetByUsername(cmd.Context(), name); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if !yes {
				resp, err := prompt(cmd, "Are you sure you want to delete this user? [y|N] ", false)
				if !bytes.Equal(resp, []byte{'y'}) || err != nil {
					logger.InfoContext(cmd.Context(), "aborted user deletion")
					return err
				}
			}
			if err := repo.Delete(cmd.Context(), name); err != nil {
				return err
			}
			logger.InfoContext(cmd.Context(), "user deleted")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func hashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print a bcrypt hash of a password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			passwd, err := prompt(cmd, "password: ", true)
			if err != nil {
				return err
			}
			hash, err := security.NewBcryptHasher(s.cost).Hash(string(passwd))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
