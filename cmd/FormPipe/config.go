package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/FormPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FormPipe state data
	DefaultStateDir = "/var/lib/formpipe"
	// DefaultCatalogFileName is the catalog looked up in the state directory
	DefaultCatalogFileName = "questions.json"
	// DefaultAppDBFileName is the default SQLite response database filename
	DefaultAppDBFileName = "formpipe.db"
	// DefaultCSVFileName is the default CSV response file
	DefaultCSVFileName = "responses.csv"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultBackupDirName holds catalog backups inside the state directory
	DefaultBackupDirName = "backups"
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = ":8080"
	// DefaultSessionTTL is how long an abandoned conversation is kept in Redis
	DefaultSessionTTL = 24 * time.Hour
)

// Channel names accepted by FORMPIPE_CHANNEL.
const (
	ChannelTelegram = "telegram"
	ChannelWhatsApp = "whatsapp"
	ChannelTwilio   = "twilio"
)

// Sink names accepted by FORMPIPE_SINKS.
const (
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkCSV      = "csv"
	SinkSheets   = "sheets"
)

// Config holds environment configuration. Command line flags are bound to the same fields,
// so a flag overrides its environment variable.
type Config struct {
	LogLevel string

	StateDir    string
	CatalogPath string
	BackupDir   string

	Channel       string
	TelegramToken string
	WhatsAppDSN   string
	QROutput      string
	NumericCode   bool

	Sinks           []string
	DatabaseURL     string
	CSVPath         string
	SpreadsheetID   string
	CredentialsFile string
	SheetName       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration
	IdleTimeout   time.Duration

	APIAddr        string
	AllowedOrigins []string
}

// loadEnvironmentConfig loads configuration from environment variables and .env file.
// Paths derived from the state directory are left empty until applyDefaults.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel:        os.Getenv("FORMPIPE_LOG_LEVEL"),
		StateDir:        os.Getenv("FORMPIPE_STATE_DIR"),
		CatalogPath:     os.Getenv("FORMPIPE_CATALOG"),
		BackupDir:       os.Getenv("FORMPIPE_BACKUP_DIR"),
		Channel:         os.Getenv("FORMPIPE_CHANNEL"),
		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		Sinks:           util.ParseListEnv("FORMPIPE_SINKS"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CSVPath:         os.Getenv("FORMPIPE_CSV_PATH"),
		SpreadsheetID:   os.Getenv("SPREADSHEET_ID"),
		CredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		SheetName:       os.Getenv("SHEET_NAME"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		APIAddr:         os.Getenv("API_ADDR"),
		AllowedOrigins:  util.ParseListEnv("FORMPIPE_ALLOWED_ORIGINS"),
	}

	config.NumericCode = util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false)
	config.RedisDB = util.ParseIntEnv("REDIS_DB", 0)
	config.SessionTTL = util.ParseDurationEnv("FORMPIPE_SESSION_TTL", DefaultSessionTTL)
	config.IdleTimeout = util.ParseDurationEnv("FORMPIPE_IDLE_TIMEOUT", 0)

	slog.Debug("environment variables loaded",
		"FORMPIPE_STATE_DIR", config.StateDir,
		"FORMPIPE_CATALOG", config.CatalogPath,
		"FORMPIPE_CHANNEL", config.Channel,
		"FORMPIPE_SINKS", config.Sinks,
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_ADDR", config.RedisAddr,
		"API_ADDR", config.APIAddr)

	return config
}

// applyDefaults fills every unset value, deriving file locations from the state directory.
func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
		slog.Debug("No FORMPIPE_STATE_DIR set, using default", "default_state_dir", c.StateDir)
	}
	if c.CatalogPath == "" {
		c.CatalogPath = filepath.Join(c.StateDir, DefaultCatalogFileName)
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.StateDir, DefaultBackupDirName)
	}
	if c.Channel == "" {
		c.Channel = ChannelTelegram
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []string{SinkSQLite}
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", c.DatabaseURL)
	}
	if c.CSVPath == "" {
		c.CSVPath = filepath.Join(c.StateDir, DefaultCSVFileName)
	}
	if c.WhatsAppDSN == "" {
		c.WhatsAppDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if c.APIAddr == "" {
		c.APIAddr = DefaultAPIAddr
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	c.Channel = strings.ToLower(strings.TrimSpace(c.Channel))
	for i, s := range c.Sinks {
		c.Sinks[i] = strings.ToLower(strings.TrimSpace(s))
	}
}

// validate reports configuration that cannot start the run command.
func (c *Config) validate() error {
	switch c.Channel {
	case ChannelTelegram:
		if c.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required for the telegram channel")
		}
	case ChannelWhatsApp, ChannelTwilio:
	default:
		return fmt.Errorf("unknown channel %q (want %s, %s or %s)", c.Channel, ChannelTelegram, ChannelWhatsApp, ChannelTwilio)
	}

	for _, s := range c.Sinks {
		switch s {
		case SinkCSV:
		case SinkSQLite:
			if util.DetectDSNType(c.DatabaseURL) != "sqlite3" {
				return fmt.Errorf("sqlite sink requires a SQLite DATABASE_URL")
			}
		case SinkPostgres:
			if util.DetectDSNType(c.DatabaseURL) != "postgres" {
				return fmt.Errorf("postgres sink requires a PostgreSQL DATABASE_URL")
			}
		case SinkSheets:
			if c.SpreadsheetID == "" {
				return fmt.Errorf("SPREADSHEET_ID is required for the sheets sink")
			}
		default:
			return fmt.Errorf("unknown sink %q", s)
		}
	}
	return nil
}
