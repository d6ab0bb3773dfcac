package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apimgr/pharmacy/src/backup"
	"github.com/apimgr/pharmacy/src/config"
	"github.com/apimgr/pharmacy/src/database"
	"github.com/apimgr/pharmacy/src/email"
	"github.com/apimgr/pharmacy/src/scheduler"
	"github.com/apimgr/pharmacy/src/server/handler"
	"github.com/apimgr/pharmacy/src/server/middleware"
	"github.com/apimgr/pharmacy/src/server/model"
	"github.com/apimgr/pharmacy/src/server/service"
)

// application bundles the long-lived services for signal handlers
type application struct {
	cfg      *config.Config
	emailSvc *email.Service
	settings *service.SettingsService
}

func main() {
	log.SetFlags(log.LstdFlags)

	if err := run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	notificationModel := &models.NotificationModel{DB: db}
	cooldownModel := &models.CooldownModel{DB: db}
	scanScheduleModel := &models.ScanScheduleModel{DB: db}
	productModel := &models.ProductModel{DB: db}
	userModel := &models.UserModel{DB: db}

	emailSvc := email.New(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
		TLS:      cfg.SMTP.TLS,
	})
	if emailSvc.Ready() {
		log.Println("📧 Email channel ready")
	} else {
		log.Println("📧 Email channel disabled (SMTP not configured)")
	}

	hub := service.NewWebSocketHub()
	go hub.Run()

	settings := service.NewSettingsService(db)
	router := service.NewEmailRouter(notificationModel, userModel, emailSvc, cfg.Notifications.RecipientOverride)
	notifications := service.NewNotificationService(notificationModel, cooldownModel, hub, router)
	healthChecks := service.NewHealthCheckService(productModel, userModel, notifications, router, scanScheduleModel, settings)

	sched := scheduler.New(db)
	if err := scheduler.RegisterNotificationTasks(sched, healthChecks, notificationModel, cooldownModel, settings); err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}

	backupSvc := backup.New(db, filepath.Join(filepath.Dir(cfg.Database.Path), "backup"), GetVersion())
	err = sched.AddTask("database_backup", "0 2 * * *", func(ctx context.Context) error {
		path, err := backupSvc.Create()
		if err != nil {
			return err
		}
		log.Printf("💾 Database backed up to %s", path)
		_, err = backupSvc.Prune(7)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to register backup task: %w", err)
	}
	sched.Start()

	app := &application{cfg: cfg, emailSvc: emailSvc, settings: settings}

	// Config changes on disk apply without a restart
	if configPath := config.FindConfigFile(); configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(updated *config.Config) error {
			app.cfg = updated
			emailSvc.Reconfigure(email.Config{
				Host:     updated.SMTP.Host,
				Port:     updated.SMTP.Port,
				Username: updated.SMTP.Username,
				Password: updated.SMTP.Password,
				From:     updated.SMTP.From,
				FromName: updated.SMTP.FromName,
				TLS:      updated.SMTP.TLS,
			})
			settings.Invalidate()
			return nil
		})
		if err != nil {
			log.Printf("⚠️  Config watcher unavailable: %v", err)
		} else if err := watcher.Start(); err != nil {
			log.Printf("⚠️  Config watcher failed to start: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	engine := buildEngine(cfg, notifications, healthChecks, hub)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: engine,
	}

	go func() {
		log.Printf("🚀 %s listening on %s", cfg.Server.Title, cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	waitForShutdown(app)

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️  HTTP shutdown: %v", err)
	}

	sched.Stop()
	hub.Stop()
	notifications.Close()

	log.Println("👋 Goodbye")
	return nil
}

func buildEngine(cfg *config.Config, notifications *service.NotificationService, healthChecks *service.HealthCheckService, hub *service.WebSocketHub) *gin.Engine {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Metrics())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-User-ID")
	engine.Use(cors.New(corsConfig))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": GetVersion(),
			"ws":      hub.ConnectedCount(),
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	api.Use(middleware.SecurityHeaders(), middleware.RateLimit())
	h := handler.NewNotificationHandler(notifications, healthChecks, hub)
	h.RegisterRoutes(api)

	return engine
}

// waitForShutdown blocks until SIGINT/SIGTERM, dispatching platform
// signals (SIGHUP, SIGUSR2 on unix) along the way
func waitForShutdown(app *application) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	notifyPlatformSignals(sigCh)

	for sig := range sigCh {
		switch sig {
		case os.Interrupt, syscall.SIGTERM:
			return
		default:
			handlePlatformSignal(sig, app)
		}
	}
}
