package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/coursework/internal/auth"
	"github.com/MarcoPoloResearchLab/coursework/internal/config"
	"github.com/MarcoPoloResearchLab/coursework/internal/logging"
	"github.com/MarcoPoloResearchLab/coursework/internal/projects"
	"github.com/MarcoPoloResearchLab/coursework/internal/rosters"
	"github.com/MarcoPoloResearchLab/coursework/internal/server"
	"github.com/MarcoPoloResearchLab/coursework/internal/uploads"
	"github.com/MarcoPoloResearchLab/coursework/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const usersFileName = "users.txt"

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coursework-api",
		Short: "Coursework assignment and submission tracker",
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
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "CORS origins allowed to send credentials")
	cmd.PersistentFlags().String("data-dir", defaults.GetString("data.dir"), "Directory holding the record files")
	cmd.PersistentFlags().String("uploads-dir", defaults.GetString("uploads.dir"), "Directory holding uploaded files")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Duration("captcha-ttl", defaults.GetDuration("captcha.ttl"), "Captcha validity window")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "data.dir", "data-dir")
	bindFlag(cmd, "uploads.dir", "uploads-dir")
	bindFlag(cmd, "session.cookie_name", "cookie-name")
	bindFlag(cmd, "captcha.ttl", "captcha-ttl")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
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
		if cfgFile != "" || !errors.As(err, &configNotFound) {
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	userStore, err := users.NewStore(users.StoreConfig{
		Path:   filepath.Join(appConfig.DataDir, usersFileName),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	rosterStore, err := rosters.NewStore(rosters.StoreConfig{Directory: appConfig.DataDir, Logger: logger})
	if err != nil {
		return err
	}
	if err := rosterStore.SeedDefaults(); err != nil {
		return err
	}
	if _, err := userStore.Load(); err != nil {
		return err
	}

	projectStore, err := projects.NewStore(projects.StoreConfig{Directory: appConfig.DataDir, Logger: logger})
	if err != nil {
		return err
	}
	projectService, err := projects.NewService(projects.ServiceConfig{
		Store:   projectStore,
		Rosters: rosterStore,
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	uploadStore, err := uploads.NewStore(uploads.StoreConfig{Root: appConfig.UploadsDir, Logger: logger})
	if err != nil {
		return err
	}

	authService, err := auth.NewService(auth.ServiceConfig{
		Credentials: userStore,
		Sessions:    auth.NewSessionRegistry(auth.SessionRegistryConfig{}),
		Captchas: auth.NewCaptchaRegistry(auth.CaptchaRegistryConfig{
			Clock: time.Now,
			TTL:   appConfig.CaptchaTTL,
		}),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Auth:           authService,
		Users:          userStore,
		Projects:       projectService,
		Uploads:        uploadStore,
		CookieName:     appConfig.CookieName,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("data_dir", appConfig.DataDir),
			zap.String("uploads_dir", appConfig.UploadsDir))
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
