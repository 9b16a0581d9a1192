package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lexcollab/backend/internal/ai"
	"github.com/lexcollab/backend/internal/blob"
	"github.com/lexcollab/backend/internal/comments"
	"github.com/lexcollab/backend/internal/config"
	"github.com/lexcollab/backend/internal/database"
	"github.com/lexcollab/backend/internal/documents"
	"github.com/lexcollab/backend/internal/export"
	"github.com/lexcollab/backend/internal/logging"
	"github.com/lexcollab/backend/internal/realtime"
	"github.com/lexcollab/backend/internal/server"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "lexcollab-api",
		Short: "LexCollab legal document collaboration backend",
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
	cmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key (overrides env)")
	cmd.PersistentFlags().String("gemini-model", defaults.GetString("gemini.model"), "Gemini model name")
	cmd.PersistentFlags().String("blob-endpoint", defaults.GetString("blob.endpoint"), "Object store endpoint for signature uploads")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "gemini.api_key", "gemini-api-key")
	bindFlag(cmd, "gemini.model", "gemini-model")
	bindFlag(cmd, "blob.endpoint", "blob-endpoint")
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

	documentsService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	commentsService, err := comments.NewService(comments.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		DocumentsService: documentsService,
		CommentsService:  commentsService,
		Rooms:            realtime.NewRoomRegistry(),
		Renderer: export.NewRenderer(export.RendererConfig{
			Timeout: appConfig.PDFTimeout,
			Logger:  logger,
		}),
		Logger: logger,
	}

	if appConfig.GeminiAPIKey != "" {
		drafter, err := ai.NewDrafter(ctx, ai.DrafterConfig{
			APIKey:  appConfig.GeminiAPIKey,
			Model:   appConfig.GeminiModel,
			Timeout: appConfig.AITimeout,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer drafter.Close()
		deps.Drafter = drafter
	} else {
		logger.Warn("gemini api key not configured, drafting disabled")
	}

	if appConfig.BlobEndpoint != "" {
		signatures, err := blob.NewStore(blob.StoreConfig{
			Endpoint:  appConfig.BlobEndpoint,
			AccessKey: appConfig.BlobAccessKey,
			SecretKey: appConfig.BlobSecretKey,
			Bucket:    appConfig.BlobBucket,
			UseSSL:    appConfig.BlobUseSSL,
			PublicURL: appConfig.BlobPublicURL,
			Timeout:   appConfig.BlobTimeout,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		if err := signatures.EnsureBucket(ctx); err != nil {
			logger.Warn("blob bucket check failed", zap.Error(err))
		}
		deps.Signatures = signatures
	} else {
		logger.Warn("blob endpoint not configured, signature uploads disabled")
	}

	handler, err := server.NewHTTPHandler(deps)
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
