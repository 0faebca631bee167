package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath    string
	OutputDir string

	MailQuery      string
	MailDaysBack   int
	MailMaxResults int
	MailProvider   string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMailbox  string

	ListenerIntervalSec int
	ListenerAutoExport  bool

	// Report email delivery. The notify credentials default to the
	// scraper's Gmail app when unset; a separate sender account only
	// needs its own refresh token.
	ReportEmailTo      string
	NotifyClientID     string
	NotifyClientSecret string
	NotifyRefreshToken string

	LogLevel  string
	LogFormat string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "cop.db")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		MailQuery:      getEnv("MAIL_QUERY", "swiftprojects.io from:ontel.co"),
		MailDaysBack:   getEnvInt("MAIL_DAYS_BACK", 30),
		MailMaxResults: getEnvInt("MAIL_MAX_RESULTS", 500),
		MailProvider:   getEnv("MAIL_PROVIDER", "gmail"),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMailbox:  getEnv("IMAP_MAILBOX", "INBOX"),

		ListenerIntervalSec: getEnvInt("LISTENER_INTERVAL_SEC", 86400),
		ListenerAutoExport:  getEnvBool("LISTENER_AUTO_EXPORT", true),

		ReportEmailTo:      getEnv("REPORT_EMAIL_TO", ""),
		NotifyClientID:     getEnv("NOTIFY_CLIENT_ID", ""),
		NotifyClientSecret: getEnv("NOTIFY_CLIENT_SECRET", ""),
		NotifyRefreshToken: getEnv("NOTIFY_REFRESH_TOKEN", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
