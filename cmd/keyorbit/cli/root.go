package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyorbit",
		Short: "API token access control service",
		Long: `KeyOrbit: issue, validate, and manage API access tokens.

KeyOrbit stores bcrypt-hashed token secrets, enforces expiry, IP allow
lists, permissions, and scopes on every validation, and serves a hybrid
API-token / session-JWT authentication gate over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keyorbit.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the token store (default: ~/.keyorbit)")

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("keyorbit")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.keyorbit")
	}

	viper.SetEnvPrefix("KEYORBIT")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
