package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"git.sr.ht/~jakintosh/tokenslot/internal/config"
	"git.sr.ht/~jakintosh/tokenslot/internal/database"
	"git.sr.ht/~jakintosh/tokenslot/internal/logging"
	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tokenslot",
	Short: "Per-user access token issuance and checks",
	Long: `tokenslot hands out opaque access tokens, one live token per user.
Only a hash of each token is stored; a new token is issued once the
previous one has expired.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, configErr := initConfig()
		err := logging.Init(logging.Options{
			Level:   viper.GetString(config.LogLevelKey),
			Format:  viper.GetString(config.LogFormatKey),
			NoColor: viper.GetBool(config.LogNoColorKey),
		})
		if err != nil {
			return err
		}
		if configErr != nil { // handle error after logging is initialized
			return configErr
		}
		if configPath != "" {
			log.Debug().Msgf("using config file: %s", configPath)
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal().Err(err).Msg("execution failed")
	}
}

func init() {
	// setup pre-flag logger
	logging.InitDefault()

	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./tokenslot.yaml or $HOME/.tokenslot.yaml)")

	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(config.LogLevelKey, flags.Lookup("log-level"))

	flags.String("log-format", logging.FormatConsole, "Log format (console, json)")
	_ = viper.BindPFlag(config.LogFormatKey, flags.Lookup("log-format"))

	flags.Bool("no-color", false, "Disable color output")
	_ = viper.BindPFlag(config.LogNoColorKey, flags.Lookup("no-color"))

	flags.String("db-driver", database.DriverSQLite, "Database driver (sqlite, postgres, memory)")
	_ = viper.BindPFlag(config.DatabaseDriverKey, flags.Lookup("db-driver"))

	flags.String("db-dsn", "tokenslot.db", "SQLite path or PostgreSQL connection string")
	_ = viper.BindPFlag(config.DatabaseDSNKey, flags.Lookup("db-dsn"))

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer())
	viper.AutomaticEnv()

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func initConfig() (string, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// search order: current dir, $HOME
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("tokenslot")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundError) {
			return "", err
		}
		return "", nil
	}
	return viper.ConfigFileUsed(), nil
}

// openService loads the configuration and wires a service over the
// configured store and token source. The caller closes the store.
func openService(
	ctx context.Context,
	opts ...service.Option,
) (
	*config.Config,
	*service.Service,
	database.Store,
	error,
) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, nil, err
	}

	source, err := cfg.TokenSource()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building token source: %w", err)
	}

	store, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}

	svc := service.New(store, store, source, opts...)
	return cfg, svc, store, nil
}
