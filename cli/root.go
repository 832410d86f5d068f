// Package cli provides the flock CLI commands.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/flockhq/flock/config"
	"github.com/flockhq/flock/database"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "flock",
	Short: "flock - church management platform server",
	Long: `flock runs the church management platform API.

It provides:
  - The HTTP server with 'flock serve'
  - Support tooling for admin impersonation sessions with 'flock impersonation'
  - User provisioning with 'flock user'`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A local .env feeds FLOCK_* overrides during development.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		if err := config.Load(v, cfgFile, cfgFile != "", nil); err != nil {
			return err
		}
		config.SetupLogging(config.GetLogConfig(v))
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default searches /etc/flock, $HOME/.flock, .)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(impersonationCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(versionCmd)
}

func openDatabase() (*database.Database, error) {
	db, err := database.New(v.GetString("database.path"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
