package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/passagelab/passage/internal/auth"
	"github.com/passagelab/passage/internal/config"
	"github.com/passagelab/passage/internal/database"
	"github.com/passagelab/passage/internal/identity"
	"github.com/passagelab/passage/internal/logging"
	"github.com/passagelab/passage/internal/login"
	"github.com/passagelab/passage/internal/provider"
	"github.com/passagelab/passage/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "passage-api",
		Short: "Passage third-party login bridge service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("provider-client-id", defaults.GetString("provider.client_id"), "OAuth application client id")
	cmd.PersistentFlags().String("provider-redirect-url", defaults.GetString("provider.redirect_url"), "OAuth callback redirect URL")
	cmd.PersistentFlags().String("provider-auth-url", defaults.GetString("provider.auth_url"), "Provider authorization endpoint")
	cmd.PersistentFlags().String("provider-token-url", defaults.GetString("provider.token_url"), "Provider token endpoint")
	cmd.PersistentFlags().String("provider-profile-url", defaults.GetString("provider.profile_url"), "Provider profile endpoint")
	cmd.PersistentFlags().String("provider-scope", defaults.GetString("provider.scope"), "Requested OAuth scope")
	cmd.PersistentFlags().String("provider-api-version", defaults.GetString("provider.api_version"), "Provider protocol version parameter")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "provider.client_id", "provider-client-id")
	bindFlag(cmd, "provider.redirect_url", "provider-redirect-url")
	bindFlag(cmd, "provider.auth_url", "provider-auth-url")
	bindFlag(cmd, "provider.token_url", "provider-token-url")
	bindFlag(cmd, "provider.profile_url", "provider-profile-url")
	bindFlag(cmd, "provider.scope", "provider-scope")
	bindFlag(cmd, "provider.api_version", "provider-api-version")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	providerClient, err := provider.NewClient(provider.Config{
		ClientID:     appConfig.ProviderClientID,
		ClientSecret: appConfig.ProviderClientSecret,
		RedirectURL:  appConfig.ProviderRedirectURL,
		AuthURL:      appConfig.ProviderAuthURL,
		TokenURL:     appConfig.ProviderTokenURL,
		ProfileURL:   appConfig.ProviderProfileURL,
		Scope:        appConfig.ProviderScope,
		APIVersion:   appConfig.ProviderAPIVersion,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        "passage-auth",
		Audience:      "passage-api",
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	identityService, err := identity.NewService(identity.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	loginService, err := login.NewService(login.ServiceConfig{
		Database:   db,
		Provider:   providerClient,
		Identities: identityService,
		Sessions:   tokenIssuer,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		LoginService:     loginService,
		IdentityService:  identityService,
		ProviderClient:   providerClient,
		SessionValidator: tokenIssuer,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
