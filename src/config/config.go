package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Version string `yaml:"version"`
	Mode    string `yaml:"mode"` // development, production

	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	SMTP          SMTPConfig          `yaml:"smtp"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig represents server-specific configuration
type ServerConfig struct {
	Address string `yaml:"address"`
	Title   string `yaml:"title"`
}

// DatabaseConfig represents the SQLite database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SMTPConfig holds SMTP server configuration
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
	TLS      bool   `yaml:"tls"`
}

// NotificationsConfig holds deployment-level notification options.
// RecipientOverride maps placeholder addresses to real ones and is
// consulted exactly once per email send.
type NotificationsConfig struct {
	RecipientOverride map[string]string `yaml:"recipient_override"`
}

// LoadConfig loads configuration from server.yml
func LoadConfig() (*Config, error) {
	// Default config
	cfg := &Config{
		Version: "1.0.0",
		Mode:    "production",
		Server: ServerConfig{
			Address: ":8080",
			Title:   "Pharmacy Management",
		},
		Database: DatabaseConfig{
			Path: "pharmacy.db",
		},
	}

	configPath := FindConfigFile()
	if configPath == "" {
		// No config file found, use defaults
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// FindConfigFile searches for server.yml in common locations
func FindConfigFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Search paths (in order of priority)
	searchPaths := []string{
		filepath.Join(cwd, "server.yml"),
		filepath.Join(cwd, "../server.yml"),
		"/etc/pharmacy/server.yml",
		"/opt/pharmacy/server.yml",
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
