package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration for one environment.
type Config struct {
	DBPath           string   `yaml:"db_path"`
	MediaDir         string   `yaml:"media_dir"`
	RemoteURL        string   `yaml:"remote_url"`
	SharedSecret     string   `yaml:"shared_secret"`
	PollIntervalSecs int      `yaml:"poll_interval_secs"`
	NotifyURLs       []string `yaml:"notify_urls"`
	RelationshipKeys []string `yaml:"relationship_keys"`
	LogLevel         string   `yaml:"log_level"`
}

// DefaultRelationshipKeys are the post meta keys whose values encode
// post-to-post references and must be remapped on import.
var DefaultRelationshipKeys = []string{"_thumbnail_id"}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/stagesync/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		PollIntervalSecs: 2,
		LogLevel:         "info",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// Load ~/.config/stagesync/config.yaml if it exists
	if err := loadYAMLConfig(cfg); err != nil {
		// YAML config is optional, so we don't fail if it doesn't exist
	}

	if dbPath := getEnvOrFile("STAGESYNC_DB_PATH", "STAGESYNC_DB_PATH_FILE"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if mediaDir := os.Getenv("STAGESYNC_MEDIA_DIR"); mediaDir != "" {
		cfg.MediaDir = mediaDir
	}
	if remote := os.Getenv("STAGESYNC_REMOTE_URL"); remote != "" {
		cfg.RemoteURL = remote
	}
	if secret := getEnvOrFile("STAGESYNC_SECRET", "STAGESYNC_SECRET_FILE"); secret != "" {
		cfg.SharedSecret = secret
	}
	if keys := os.Getenv("STAGESYNC_RELATIONSHIP_KEYS"); keys != "" {
		cfg.RelationshipKeys = splitList(keys)
	}
	if urls := os.Getenv("STAGESYNC_NOTIFY_URLS"); urls != "" {
		cfg.NotifyURLs = splitList(urls)
	}
	if logLevel := os.Getenv("STAGESYNC_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Set defaults if not configured
	if cfg.DBPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DBPath = filepath.Join(homeDir, ".local", "share", "stagesync", "content.db")
	}
	if cfg.MediaDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.MediaDir = filepath.Join(homeDir, ".local", "share", "stagesync", "media")
	}
	if len(cfg.RelationshipKeys) == 0 {
		cfg.RelationshipKeys = append([]string(nil), DefaultRelationshipKeys...)
	}

	return cfg, nil
}

// PollInterval returns the polling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSecs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// StateDir returns the directory for worker log files, next to the db.
func (c *Config) StateDir() string {
	return filepath.Join(filepath.Dir(c.DBPath), "state")
}

// loadYAMLConfig loads configuration from ~/.config/stagesync/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "stagesync", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
