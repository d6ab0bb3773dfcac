//go:build !windows
// +build !windows

package main

import (
	"log"
	"os"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/pharmacy/src/config"
	"github.com/apimgr/pharmacy/src/email"
)

func handlePlatformSignal(sig os.Signal, app *application) {
	switch sig {
	case syscall.SIGUSR2:
		log.Println("🔧 Received SIGUSR2, toggling debug mode...")
		if gin.Mode() == gin.DebugMode {
			gin.SetMode(gin.ReleaseMode)
			log.Println("✅ Debug mode: OFF (release mode)")
		} else {
			gin.SetMode(gin.DebugMode)
			log.Println("✅ Debug mode: ON (debug mode)")
		}

	case syscall.SIGHUP:
		log.Println("🔄 Received SIGHUP, reloading configuration...")
		cfg, err := config.LoadConfig()
		if err != nil {
			log.Printf("❌ Failed to reload config: %v", err)
			return
		}
		app.cfg = cfg
		app.emailSvc.Reconfigure(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
			TLS:      cfg.SMTP.TLS,
		})
		app.settings.Invalidate()
		log.Println("✅ Configuration reloaded")
	}
}
