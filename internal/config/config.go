// Package config loads the service configuration from environment variables
// (optionally seeded from a .env file) and validates it before start-up.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - TLS_CERT_FILE, TLS_KEY_FILE: serve HTTPS when both are set
//   - DEBUG: relax embed-origin checks and cookie security (default: false)
//   - DEMO: demo server; PayPal is skipped and no email is sent (default: false)
//   - TIMEZONE: zone used for date stamps written to the sheets (default: America/Toronto)
//   - LOG_LEVEL, LOG_FORMAT, LOG_FILE: read directly by the logging package
//
// Google:
//   - GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON: service account for Sheets and Drive
//   - MEMBERS_SPREADSHEET_ID, AUTHORIZED_SPREADSHEET_ID (required)
//   - VOLUNTEER_SPREADSHEET_ID, VOLUNTEER_INTERESTS_SPREADSHEET_ID, SKILLS_CATEGORIES_SPREADSHEET_ID
//   - GOOGLE_SIGNIN_CLIENT_ID: audience for admin id tokens (required)
//   - GOOGLE_MAPS_API_KEY: geocoding; geocoding is skipped when empty
//
// Sessions:
//   - SESSION_SECRET: admin session signing secret (required, at least 16 characters)
//   - SESSION_TTL: admin session lifetime (default: 720h)
//
// Redis and settings:
//   - REDIS_ADDRESS (default: localhost:6379), REDIS_PASSWORD, REDIS_DB (0-15), REDIS_POOL_SIZE (default: 10)
//   - SETTINGS_DB_PATH: sqlite file holding app settings (default: ./settings.db)
//   - TASK_WORKERS: background task workers per instance (default: 4)
//
// Email:
//   - SMTP_HOST, SMTP_PORT (default: 587), SMTP_PASSWORD
//   - MASTER_EMAIL_ADDRESS, MASTER_EMAIL_SEND_NAME: sender, SMTP login and admin alert recipient
//   - ALLOWED_EMAIL_TO_ADDRESSES: comma separated; when set, only these may receive mail
//
// Self-serve and PayPal:
//   - SELF_SERVE_ALLOWED_EMBED_ORIGINS: comma separated origins allowed to embed the forms
//   - SELF_SERVE_RATE_LIMIT_RPS (default: 1), SELF_SERVE_RATE_LIMIT_BURST (default: 10)
//   - PAYPAL_PAYMENT_URL: payment link with a single %s for the invoice id
//   - PAYPAL_IPN_VALIDATION_URL (default: https://ipnpb.paypal.com/cgi-bin/webscr)
//   - PAYPAL_TXN_ITEM_NAME, PAYPAL_TXN_RECEIVER_EMAIL: expected IPN values
//
// MailChimp:
//   - MAILCHIMP_ENABLED (default: false), MAILCHIMP_API_KEY, MAILCHIMP_MEMBERS_LIST_ID, MAILCHIMP_DC
//   - MAILCHIMP_MEMBER_TYPE_MERGE_TAG (default: MEMBTYPE), MAILCHIMP_MEMBER_TYPE_MEMBER (default: Member),
//     MAILCHIMP_MEMBER_TYPE_VOLUNTEER (default: Volunteer)
//
// Schedules (standard five-field cron):
//   - MEMBER_CULL_SCHEDULE (default: "0 3 * * *")
//   - MEMBER_ARCHIVE_SCHEDULE (default: "0 4 1 11 *")
//   - CANDIDATE_EXPIRE_SCHEDULE (default: "0 * * * *")
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the membership service
type Config struct {
	// Application
	Port        string
	TLSCertFile string
	TLSKeyFile  string
	Debug       bool
	Demo        bool
	Timezone    string

	// Google
	GoogleCredentialsFile   string
	GoogleCredentialsJSON   string
	MembersSpreadsheetID    string
	AuthorizedSpreadsheetID string
	VolunteerSpreadsheetID  string
	InterestsSpreadsheetID  string
	SkillsSpreadsheetID     string
	GoogleSigninClientID    string
	GoogleMapsAPIKey        string

	// Sessions
	SessionSecret string
	SessionTTL    time.Duration

	// Redis
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Settings store and task workers
	SettingsDBPath string
	TaskWorkers    int

	// Email
	SMTPHost                string
	SMTPPort                int
	SMTPPassword            string
	MasterEmailAddress      string
	MasterEmailSendName     string
	AllowedEmailToAddresses []string

	// Self-serve
	AllowedEmbedOrigins []string
	SelfServeRateRPS    float64
	SelfServeRateBurst  int

	// PayPal
	PayPalPaymentURL       string
	PayPalIPNValidationURL string
	PayPalItemName         string
	PayPalReceiverEmail    string

	// MailChimp
	MailChimpEnabled       bool
	MailChimpAPIKey        string
	MailChimpListID        string
	MailChimpDC            string
	MailChimpTypeMergeTag  string
	MailChimpTypeMember    string
	MailChimpTypeVolunteer string

	// Schedules
	MemberCullSchedule      string
	MemberArchiveSchedule   string
	CandidateExpireSchedule string
}

// Load reads the configuration from the environment, applying defaults.
// It never fails; call Validate before using the result.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),
		Debug:       getBoolEnv("DEBUG", false),
		Demo:        getBoolEnv("DEMO", false),
		Timezone:    getEnv("TIMEZONE", "America/Toronto"),

		GoogleCredentialsFile:   getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleCredentialsJSON:   getEnv("GOOGLE_CREDENTIALS_JSON", ""),
		MembersSpreadsheetID:    getEnv("MEMBERS_SPREADSHEET_ID", ""),
		AuthorizedSpreadsheetID: getEnv("AUTHORIZED_SPREADSHEET_ID", ""),
		VolunteerSpreadsheetID:  getEnv("VOLUNTEER_SPREADSHEET_ID", ""),
		InterestsSpreadsheetID:  getEnv("VOLUNTEER_INTERESTS_SPREADSHEET_ID", ""),
		SkillsSpreadsheetID:     getEnv("SKILLS_CATEGORIES_SPREADSHEET_ID", ""),
		GoogleSigninClientID:    getEnv("GOOGLE_SIGNIN_CLIENT_ID", ""),
		GoogleMapsAPIKey:        getEnv("GOOGLE_MAPS_API_KEY", ""),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    getDurationEnv("SESSION_TTL", 30*24*time.Hour),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),

		SettingsDBPath: getEnv("SETTINGS_DB_PATH", "./settings.db"),
		TaskWorkers:    getIntEnv("TASK_WORKERS", 4),

		SMTPHost:                getEnv("SMTP_HOST", ""),
		SMTPPort:                getIntEnv("SMTP_PORT", 587),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		MasterEmailAddress:      getEnv("MASTER_EMAIL_ADDRESS", ""),
		MasterEmailSendName:     getEnv("MASTER_EMAIL_SEND_NAME", ""),
		AllowedEmailToAddresses: getListEnv("ALLOWED_EMAIL_TO_ADDRESSES"),

		AllowedEmbedOrigins: getListEnv("SELF_SERVE_ALLOWED_EMBED_ORIGINS"),
		SelfServeRateRPS:    getFloatEnv("SELF_SERVE_RATE_LIMIT_RPS", 1),
		SelfServeRateBurst:  getIntEnv("SELF_SERVE_RATE_LIMIT_BURST", 10),

		PayPalPaymentURL:       getEnv("PAYPAL_PAYMENT_URL", ""),
		PayPalIPNValidationURL: getEnv("PAYPAL_IPN_VALIDATION_URL", "https://ipnpb.paypal.com/cgi-bin/webscr"),
		PayPalItemName:         getEnv("PAYPAL_TXN_ITEM_NAME", ""),
		PayPalReceiverEmail:    getEnv("PAYPAL_TXN_RECEIVER_EMAIL", ""),

		MailChimpEnabled:       getBoolEnv("MAILCHIMP_ENABLED", false),
		MailChimpAPIKey:        getEnv("MAILCHIMP_API_KEY", ""),
		MailChimpListID:        getEnv("MAILCHIMP_MEMBERS_LIST_ID", ""),
		MailChimpDC:            getEnv("MAILCHIMP_DC", ""),
		MailChimpTypeMergeTag:  getEnv("MAILCHIMP_MEMBER_TYPE_MERGE_TAG", "MEMBTYPE"),
		MailChimpTypeMember:    getEnv("MAILCHIMP_MEMBER_TYPE_MEMBER", "Member"),
		MailChimpTypeVolunteer: getEnv("MAILCHIMP_MEMBER_TYPE_VOLUNTEER", "Volunteer"),

		MemberCullSchedule:      getEnv("MEMBER_CULL_SCHEDULE", "0 3 * * *"),
		MemberArchiveSchedule:   getEnv("MEMBER_ARCHIVE_SCHEDULE", "0 4 1 11 *"),
		CandidateExpireSchedule: getEnv("CANDIDATE_EXPIRE_SCHEDULE", "0 * * * *"),
	}
}

// Location returns the configured time zone, falling back to UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks required values, formats and cross-field dependencies
func (c *Config) Validate() error {
	v := validator.New()

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE is not a known time zone: %s", c.Timezone)
	}

	if c.GoogleCredentialsFile == "" && c.GoogleCredentialsJSON == "" {
		return fmt.Errorf("GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON is required")
	}
	if c.MembersSpreadsheetID == "" {
		return fmt.Errorf("MEMBERS_SPREADSHEET_ID is required")
	}
	if c.AuthorizedSpreadsheetID == "" {
		return fmt.Errorf("AUTHORIZED_SPREADSHEET_ID is required")
	}
	if c.GoogleSigninClientID == "" {
		return fmt.Errorf("GOOGLE_SIGNIN_CLIENT_ID is required")
	}

	if len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 characters long")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be a positive duration")
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if c.RedisPoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}
	if c.TaskWorkers < 1 {
		return fmt.Errorf("TASK_WORKERS must be a positive number")
	}

	if err := v.Var(c.MasterEmailAddress, "required,email"); err != nil {
		return fmt.Errorf("MASTER_EMAIL_ADDRESS must be a valid email address")
	}
	if !c.Demo && c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required unless DEMO is set")
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT must be a valid port number")
	}
	for _, addr := range c.AllowedEmailToAddresses {
		if err := v.Var(addr, "email"); err != nil {
			return fmt.Errorf("ALLOWED_EMAIL_TO_ADDRESSES contains an invalid address: %s", addr)
		}
	}

	if c.SelfServeRateRPS <= 0 || c.SelfServeRateBurst < 1 {
		return fmt.Errorf("SELF_SERVE_RATE_LIMIT_RPS and SELF_SERVE_RATE_LIMIT_BURST must be positive")
	}

	if !c.Demo {
		if strings.Count(c.PayPalPaymentURL, "%s") != 1 {
			return fmt.Errorf("PAYPAL_PAYMENT_URL must contain exactly one %%s for the invoice id")
		}
	}
	if err := v.Var(c.PayPalIPNValidationURL, "required,url"); err != nil {
		return fmt.Errorf("PAYPAL_IPN_VALIDATION_URL must be a valid URL")
	}

	if c.MailChimpEnabled {
		if c.MailChimpAPIKey == "" || c.MailChimpListID == "" || c.MailChimpDC == "" {
			return fmt.Errorf("MAILCHIMP_API_KEY, MAILCHIMP_MEMBERS_LIST_ID and MAILCHIMP_DC are required when MailChimp is enabled")
		}
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for name, expr := range map[string]string{
		"MEMBER_CULL_SCHEDULE":      c.MemberCullSchedule,
		"MEMBER_ARCHIVE_SCHEDULE":   c.MemberArchiveSchedule,
		"CANDIDATE_EXPIRE_SCHEDULE": c.CandidateExpireSchedule,
	} {
		if _, err := parser.Parse(expr); err != nil {
			return fmt.Errorf("%s is not a valid cron expression: %v", name, err)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts anything strconv.ParseBool does; other values fall back
// to the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated variable, dropping blanks
func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
