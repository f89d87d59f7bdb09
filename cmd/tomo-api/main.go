package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark77234/Tomo/internal/appointments"
	"github.com/mark77234/Tomo/internal/auth"
	"github.com/mark77234/Tomo/internal/config"
	"github.com/mark77234/Tomo/internal/database"
	"github.com/mark77234/Tomo/internal/friends"
	"github.com/mark77234/Tomo/internal/groups"
	"github.com/mark77234/Tomo/internal/lifecycle"
	"github.com/mark77234/Tomo/internal/logging"
	"github.com/mark77234/Tomo/internal/scoring"
	"github.com/mark77234/Tomo/internal/server"
	"github.com/mark77234/Tomo/internal/sessions"
	"github.com/mark77234/Tomo/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tomo-api",
		Short: "Tomo meetup backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scoring scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "rescore",
		Short: "Recompute every friendship score once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRescore(cmd.Context())
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres DSN")
	cmd.PersistentFlags().String("firebase-project-id", "", "Firebase project id accepted at login")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("scoring-schedule", defaults.GetString("scoring.schedule"), "Cron expression with a seconds field")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "firebase.project_id", "firebase-project-id")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "scoring.schedule", "scoring-schedule")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

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

type application struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
	engine *scoring.Engine
}

func openRuntime() (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	engine, err := scoring.NewEngine(scoring.EngineConfig{
		Database:  db,
		Clock:     time.Now,
		Logger:    logger,
		BatchSize: appConfig.ScoringBatchSize,
	})
	if err != nil {
		return nil, err
	}

	return &application{config: appConfig, logger: logger, db: db, engine: engine}, nil
}

func (r *application) close() {
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = r.logger.Sync()
}

func runRescore(ctx context.Context) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	_, err = rt.engine.Run(ctx)
	return err
}

func runServer(ctx context.Context) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	handler, err := buildHandler(rt)
	if err != nil {
		return err
	}

	if rt.config.ScoringEnabled {
		scheduler, err := scoring.NewScheduler(scoring.SchedulerConfig{
			Runner:   rt.engine,
			Schedule: rt.config.ScoringSchedule,
			Logger:   rt.logger,
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	httpServer := &http.Server{
		Addr:              rt.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: rt.config.RequestTimeout,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("server starting", zap.String("address", rt.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildHandler(rt *application) (http.Handler, error) {
	db, logger := rt.db, rt.logger

	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return nil, err
	}
	friendService, err := friends.NewService(friends.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return nil, err
	}
	groupService, err := groups.NewService(groups.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return nil, err
	}
	appointmentService, err := appointments.NewService(appointments.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}
	coordinator, err := lifecycle.NewCoordinator(lifecycle.CoordinatorConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(rt.config.SigningSecret),
		AccessTTL:     rt.config.AccessTokenTTL,
		RefreshTTL:    rt.config.RefreshTokenTTL,
	})
	if err != nil {
		return nil, err
	}

	var verifier sessions.IdentityVerifier
	if rt.config.FirebaseProjectID != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(auth.FirebaseVerifierConfig{
			ProjectID: rt.config.FirebaseProjectID,
			JWKSURL:   rt.config.FirebaseJWKSURL,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		verifier = firebaseVerifier
	} else {
		logger.Warn("firebase.project_id not set; login is disabled")
	}

	sessionService, err := sessions.NewService(sessions.ServiceConfig{
		Verifier:    verifier,
		Issuer:      tokenIssuer,
		Credentials: userService,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenIssuer,
		Sessions:       sessionService,
		Users:          userService,
		Friends:        friendService,
		Groups:         groupService,
		Appointments:   appointmentService,
		Lifecycle:      coordinator,
		Logger:         logger,
		RequestTimeout: rt.config.RequestTimeout,
		AllowedOrigins: rt.config.AllowedOrigins,
	})
}
