package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPollInterval    = 60 * time.Second
	defaultBatchSize       = 20
	defaultAICallsPerMin   = 5
	defaultAITimeoutSec    = 30
	defaultAcceptThreshold = 0.75
	defaultReviewThreshold = 0.50
	defaultAdminPort       = 8173
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Mailbox  MailboxConfig  `yaml:"mailbox"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	AI       AIConfig       `yaml:"ai"`
	Matching MatchingConfig `yaml:"matching,omitempty"`
	Pipeline PipelineConfig `yaml:"pipeline,omitempty"`
	Respond  RespondConfig  `yaml:"respond,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Admin    AdminConfig    `yaml:"admin,omitempty"`
}

// RespondConfig controls outbound auto-responses. Categories listed in
// require_approval are rendered and queued as drafts instead of being sent.
type RespondConfig struct {
	RequireApproval []string `yaml:"require_approval"`
}

// MailboxConfig holds IMAP settings for the shared transaction inbox
type MailboxConfig struct {
	Provider string `yaml:"provider"` // "gmail", "outlook", "imap"
	Server   string `yaml:"server"`   // e.g., "imap.gmail.com"
	Port     int    `yaml:"port"`     // e.g., 993
	Email    string `yaml:"email"`    // Address to monitor
	Password string `yaml:"password"` // App password (not main password)
	Folder   string `yaml:"folder"`   // Folder to monitor (default: "INBOX")
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use_tls"`
}

// AIConfig holds settings for the remote classification/extraction service
type AIConfig struct {
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	CallsPerMin int    `yaml:"calls_per_min"` // Hard ceiling shared across all call types
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// MatchingConfig holds the confidence gates for property matching. The two
// thresholds are distinct on purpose: matches at or above accept_threshold
// are applied automatically, matches between review_threshold and
// accept_threshold are applied but flagged for manual review, and matches
// below review_threshold are discarded.
type MatchingConfig struct {
	AcceptThreshold float64 `yaml:"accept_threshold"`
	ReviewThreshold float64 `yaml:"review_threshold"`
	GlobalDedup     bool    `yaml:"global_dedup"` // Dedup attachment hashes across all properties
}

// PipelineConfig holds poll-loop and response behavior settings
type PipelineConfig struct {
	PollIntervalSec     int    `yaml:"poll_interval_sec"`
	BatchSize           int    `yaml:"batch_size"`
	RespondToIrrelevant bool   `yaml:"respond_to_irrelevant"` // Reply to non-property email (default: leave unread, say nothing)
	PDFToTextCmd        string `yaml:"pdftotext_cmd"`
	PDFToImageCmd       string `yaml:"pdftoppm_cmd"`
	OCRCmd              string `yaml:"ocr_cmd"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // sqlite database path
}

type AdminConfig struct {
	Port int `yaml:"port"`
}

func (p PipelineConfig) PollInterval() time.Duration {
	if p.PollIntervalSec <= 0 {
		return defaultPollInterval
	}
	return time.Duration(p.PollIntervalSec) * time.Second
}

func (a AIConfig) Timeout() time.Duration {
	if a.TimeoutSec <= 0 {
		return defaultAITimeoutSec * time.Second
	}
	return time.Duration(a.TimeoutSec) * time.Second
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".mailroom", "config.yaml")
}

func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mailroom.db"
	}
	return filepath.Join(home, ".mailroom", "mailroom.db")
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Mailbox.Folder == "" {
		c.Mailbox.Folder = "INBOX"
	}
	if c.Mailbox.Provider == "gmail" && c.Mailbox.Server == "" {
		c.Mailbox.Server = "imap.gmail.com"
		c.Mailbox.Port = 993
	}
	if c.Mailbox.Provider == "outlook" && c.Mailbox.Server == "" {
		c.Mailbox.Server = "outlook.office365.com"
		c.Mailbox.Port = 993
	}

	if c.AI.CallsPerMin == 0 {
		c.AI.CallsPerMin = defaultAICallsPerMin
	}
	if c.AI.TimeoutSec == 0 {
		c.AI.TimeoutSec = defaultAITimeoutSec
	}

	if c.Matching.AcceptThreshold == 0 {
		c.Matching.AcceptThreshold = defaultAcceptThreshold
	}
	if c.Matching.ReviewThreshold == 0 {
		c.Matching.ReviewThreshold = defaultReviewThreshold
	}

	if c.Pipeline.PollIntervalSec == 0 {
		c.Pipeline.PollIntervalSec = int(defaultPollInterval / time.Second)
	}
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = defaultBatchSize
	}
	if c.Pipeline.PDFToTextCmd == "" {
		c.Pipeline.PDFToTextCmd = "pdftotext"
	}
	if c.Pipeline.PDFToImageCmd == "" {
		c.Pipeline.PDFToImageCmd = "pdftoppm"
	}
	if c.Pipeline.OCRCmd == "" {
		c.Pipeline.OCRCmd = "tesseract"
	}

	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath()
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = defaultAdminPort
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if c.Mailbox.Email == "" {
		return fmt.Errorf("mailbox: email address is required")
	}
	if c.Mailbox.Password == "" {
		return fmt.Errorf("mailbox: password (app password) is required")
	}
	if c.Mailbox.Server == "" {
		return fmt.Errorf("mailbox: IMAP server is required")
	}
	if c.Mailbox.Port == 0 {
		return fmt.Errorf("mailbox: IMAP port is required")
	}

	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp: host is required")
	}
	if c.SMTP.Port == 0 {
		return fmt.Errorf("smtp: port is required")
	}
	if c.SMTP.From == "" {
		return fmt.Errorf("smtp: from address is required")
	}

	if c.AI.Endpoint == "" {
		return fmt.Errorf("ai: endpoint is required")
	}
	if c.AI.Model == "" {
		return fmt.Errorf("ai: model is required")
	}

	if c.Matching.ReviewThreshold > c.Matching.AcceptThreshold {
		return fmt.Errorf("matching: review_threshold must not exceed accept_threshold")
	}

	return nil
}
