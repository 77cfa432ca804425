package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/api/middleware"
	"github.com/checkvibe/threatwatch/internal/api/routes"
	"github.com/checkvibe/threatwatch/internal/config"
	"github.com/checkvibe/threatwatch/internal/database"
	"github.com/checkvibe/threatwatch/internal/events"
	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/metrics"
	"github.com/checkvibe/threatwatch/internal/ratelimit"
	"github.com/checkvibe/threatwatch/internal/scheduler"
	"github.com/checkvibe/threatwatch/internal/server"
	"github.com/checkvibe/threatwatch/internal/services"
	"github.com/checkvibe/threatwatch/internal/version"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)
	log := logger.Log()

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1], os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		return
	}

	log.Infof("starting %s backend on version %s", version.Name, version.Full())

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	limiter, err := newLimiter(cfg, db)
	if err != nil {
		log.Fatalf("rate limiter: %v", err)
	}

	smtp := services.NewMailService(services.SMTPConfig{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		FromAddress: cfg.Mail.From,
		ReplyTo:     cfg.Mail.ReplyTo,
		Encryption:  cfg.SMTP.Encryption,
		Timeout:     cfg.SMTP.Timeout,
	})
	if !smtp.IsConfigured() {
		log.Warn("SMTP host not set, alert emails will fail")
	}
	mailer := services.NewBreakerMailer(smtp, time.Minute, 5)

	metrics.Register(prometheus.DefaultRegisterer)

	svc := routes.NewServices(db, cfg, mailer, limiter)
	if cfg.Internal.Secret == "" {
		log.Warn("internal secret not set, internal API disabled")
	}

	srv, err := server.New(db, cfg, svc)
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler.ThreatAlertsSpec, svc.ThreatAlerts, cfg.Scheduler.Timeout)
		if err != nil {
			log.Fatalf("scheduler: %v", err)
		}
		if pruner, ok := limiter.(scheduler.Pruner); ok {
			retain := max(cfg.RateLimit.IngestWindow, cfg.RateLimit.InternalWindow)
			if err := sched.AddPrune(cfg.Scheduler.PruneSpec, pruner, retain); err != nil {
				log.Fatalf("scheduler: %v", err)
			}
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.Kafka.Enabled {
		consumer := events.NewConsumer(cfg.Kafka, svc.ScanCompletion)
		go consumer.Run(ctx)
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Info("shutdown complete")
}

func setupLogging(cfg config.Config) {
	logDir := cfg.Log.Dir
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logger.Init(cfg.Log.Debug, os.Stdout)
		logger.Log().WithError(err).Warn("log directory unavailable, logging to stdout only")
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "threatwatch.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(cfg.Log.Debug, io.MultiWriter(os.Stdout, rotator))
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	target := cfg.Database.Path
	if cfg.Database.Driver == "postgres" {
		target = cfg.Database.DSN
	}
	db, err := database.Open(cfg.Database.Driver, target)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newLimiter(cfg config.Config, db *gorm.DB) (ratelimit.Limiter, error) {
	switch backend := cfg.RateLimitBackend(); backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Log().WithField("addr", cfg.Redis.Addr).Info("using redis rate limiter")
		return ratelimit.NewRedisLimiter(client), nil
	case "sql":
		return ratelimit.NewSQLLimiter(db), nil
	case "memory":
		logger.Log().Warn("in-memory rate limiter is per process; do not use with multiple replicas")
		return ratelimit.NewMemoryLimiter(), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", backend)
	}
}

func runCommand(cfg config.Config, name string, args []string) error {
	switch name {
	case "rotate-token":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s rotate-token <project-id>", os.Args[0])
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		settings, err := services.NewThreatSettingsService(db).RotateToken(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("rotate token: %w", err)
		}
		fmt.Println(settings.SnippetToken)
		return nil

	case "issue-token":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: %s issue-token <subject> [ttl]", os.Args[0])
		}
		ttl := time.Hour
		if len(args) == 2 {
			d, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("parse ttl: %w", err)
			}
			ttl = d
		}
		if cfg.Internal.Secret == "" {
			return fmt.Errorf("TW_INTERNAL_SECRET is not set")
		}
		token, err := middleware.IssueInternalToken(cfg.Internal.Secret, args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil

	default:
		return fmt.Errorf("unknown command %q", name)
	}
}
