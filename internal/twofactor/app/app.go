package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillcv/twofactor/internal/twofactor/notify"
	"github.com/quillcv/twofactor/internal/twofactor/service"
	"github.com/quillcv/twofactor/internal/twofactor/store"
	"github.com/quillcv/twofactor/internal/twofactor/store/drivers/sqlite"
	"github.com/quillcv/twofactor/pkg/cryptox"
	"github.com/quillcv/twofactor/pkg/limitx"
	"github.com/quillcv/twofactor/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the two-factor subsystem together: store, crypto,
// mailer, services and the housekeeping worker. The account portal embeds it
// and calls the orchestrator; standalone it runs as the background worker.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db store.Store

	twofactor    *service.TwoFactorService
	housekeeping *service.HousekeepingService
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "twofactor",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)
	cryptox.SetKeyringPath(cfg.MasterKeyPath)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// TwoFactor exposes the orchestrator to the embedding application.
func (app *Application) TwoFactor() *service.TwoFactorService {
	return app.twofactor
}

// Logger exposes the configured root logger.
func (app *Application) Logger() *slog.Logger {
	return app.logger
}

// Run starts the background workers and blocks until a shutdown signal.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("twofactor service started", "version", BuildVersion)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown stops the workers and releases resources.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down twofactor service...")

	app.housekeeping.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("twofactor service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initServices() error {
	keyring, err := cryptox.DefaultKeyring()
	if err != nil {
		return fmt.Errorf("failed to load encryption keyring: %w", err)
	}

	deviceKey, err := loadDeviceTokenKey(app.cfg, app.logger)
	if err != nil {
		return err
	}

	devices, err := service.NewDeviceTrustService(deviceKey, app.cfg.Issuer, slogx.WithComponent(app.logger, "device_trust"))
	if err != nil {
		return err
	}

	mailer, err := app.initMailer()
	if err != nil {
		return err
	}

	app.twofactor = &service.TwoFactorService{
		Store: app.db,
		Email: &service.EmailOTPService{
			Store:  app.db,
			Logger: slogx.WithComponent(app.logger, "email_otp"),
			Limiter: limitx.New(limitx.Config{
				EventsPerWindow: app.cfg.ResendPerHour,
				Window:          time.Hour,
				Burst:           app.cfg.ResendBurst,
			}),
		},
		Authenticator: &service.AuthenticatorService{
			Store:   app.db,
			Keyring: keyring,
			Issuer:  app.cfg.Issuer,
			Logger:  slogx.WithComponent(app.logger, "authenticator"),
		},
		Backup:  &service.BackupCodeService{Store: app.db, Logger: slogx.WithComponent(app.logger, "backup_codes")},
		Devices: devices,
		Policy:  &service.PolicyService{Store: app.db, Logger: slogx.WithComponent(app.logger, "policy")},
		Mailer:  mailer,
		Logger:  slogx.WithComponent(app.logger, "twofactor"),
	}

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		slogx.WithComponent(app.logger, "housekeeping"),
		app.cfg.HousekeepingInterval,
	)

	return nil
}

// initMailer picks SMTP when a relay is configured, otherwise the log-only
// mailer so dev environments work without mail infrastructure.
func (app *Application) initMailer() (notify.Mailer, error) {
	if app.cfg.SMTPHost == "" {
		app.logger.Warn("SMTP_HOST not set, verification emails will only be logged")
		return &notify.LogMailer{Logger: app.logger}, nil
	}

	mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     app.cfg.SMTPHost,
		Port:     app.cfg.SMTPPort,
		TLS:      app.cfg.SMTPStartTLS,
		Username: app.cfg.SMTPUsername,
		Password: app.cfg.SMTPPassword,
		From:     app.cfg.SMTPFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SMTP mailer: %w", err)
	}
	return mailer, nil
}
