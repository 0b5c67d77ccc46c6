package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"git.sr.ht/~jakintosh/tokenslot/internal/api"
	"git.sr.ht/~jakintosh/tokenslot/internal/config"
	"git.sr.ht/~jakintosh/tokenslot/internal/metrics"
	"git.sr.ht/~jakintosh/tokenslot/internal/resources"
	"git.sr.ht/~jakintosh/tokenslot/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tokenslot HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		collector := metrics.New()
		cfg, svc, store, err := openService(ctx, service.WithMetrics(collector))
		if err != nil {
			return err
		}
		defer store.Close()

		if cfg.Accounts.Dir != "" {
			if err := resources.WatchAccounts(ctx, cfg.Accounts.Dir, svc); err != nil {
				return fmt.Errorf("loading accounts: %w", err)
			}
		}

		a := api.New(
			svc,
			api.WithRegistration(cfg.Server.AllowRegistration),
			api.WithMetricsHandler(collector.Handler()),
		)
		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           a.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			log.Info().
				Str("addr", cfg.Server.Addr).
				Str("driver", cfg.Database.Driver).
				Str("source", cfg.Source.Type).
				Msg("server.starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server crashed: %w", err)
			}
		case <-ctx.Done():
		}
		log.Info().Msg("server.shutting_down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info().Msg("server.exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("addr", ":8080", "address to listen on")
	_ = viper.BindPFlag(config.ServerAddrKey, flags.Lookup("addr"))

	flags.Bool("allow-registration", false, "enable POST /register")
	_ = viper.BindPFlag(config.ServerAllowRegistrationKey, flags.Lookup("allow-registration"))

	flags.String("source", config.SourceLocal, "token source (local, external)")
	_ = viper.BindPFlag(config.SourceTypeKey, flags.Lookup("source"))

	flags.String("source-endpoint", "", "external token issuer URL")
	_ = viper.BindPFlag(config.SourceEndpointKey, flags.Lookup("source-endpoint"))

	flags.String("accounts-dir", "", "directory of account definition files to provision and watch")
	_ = viper.BindPFlag(config.AccountsDirKey, flags.Lookup("accounts-dir"))
}
