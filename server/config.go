package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/puyokura/orbitchat/engine"
	"github.com/puyokura/orbitchat/model"
)

type StorageConfig struct {
	Driver  string `yaml:"driver" env:"ORBITCHAT_STORAGE_DRIVER"` // pebble, file or memory
	Path    string `yaml:"path" env:"ORBITCHAT_STORAGE_PATH"`
	Session string `yaml:"session" env:"ORBITCHAT_STORAGE_SESSION"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"ORBITCHAT_LOG_LEVEL"`
	Dir   string `yaml:"dir" env:"ORBITCHAT_LOG_DIR"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"ORBITCHAT_RATE_RPS"`
	Burst int     `yaml:"burst" env:"ORBITCHAT_RATE_BURST"`
}

// Settings are the values kept in the YAML file.
type Settings struct {
	ServerName     string `yaml:"server_name" env:"ORBITCHAT_SERVER_NAME"`
	Host           string `yaml:"host" env:"ORBITCHAT_HOST"`
	Port           string `yaml:"port" env:"ORBITCHAT_PORT"`
	WelcomeMessage string `yaml:"welcome_message" env:"ORBITCHAT_WELCOME_MESSAGE"`

	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// SeedCredential is the password of the built-in accounts on a fresh
	// store. Empty disables logging into them.
	SeedCredential string `yaml:"seed_credential" env:"ORBITCHAT_SEED_CREDENTIAL"`
	BcryptCost     int    `yaml:"bcrypt_cost" env:"ORBITCHAT_BCRYPT_COST"`
	// ConsoleAccount is the admin account the stdin console acts as.
	ConsoleAccount string `yaml:"console_account" env:"ORBITCHAT_CONSOLE_ACCOUNT"`

	BannedAccounts []string            `yaml:"banned_accounts"`
	Catalog        []model.CatalogItem `yaml:"catalog,omitempty"`
}

func (s Settings) clone() Settings {
	s.BannedAccounts = slices.Clone(s.BannedAccounts)
	s.Catalog = slices.Clone(s.Catalog)
	return s
}

// Config is the running configuration: the file settings with environment
// overrides applied on top. file holds the settings as read from disk and is
// the only thing ever written back.
type Config struct {
	Settings

	mu         sync.RWMutex
	configFile string
	file       Settings
}

func NewConfig(filename string) *Config {
	if filename == "" {
		filename = "orbitchat.yaml"
	}
	c := &Config{configFile: filename, Settings: Settings{
		ServerName:     "OrbitChat Server",
		Host:           "localhost",
		Port:           "8999",
		WelcomeMessage: "Welcome to OrbitChat! Type /help for commands.",
		Storage: StorageConfig{
			Driver:  "pebble",
			Path:    "./.database",
			Session: "default",
		},
		Log:            LogConfig{Level: "info", Dir: "logs"},
		RateLimit:      RateLimitConfig{RPS: 5, Burst: 10},
		ConsoleAccount: "1",
		BannedAccounts: []string{},
	}}
	c.file = c.Settings.clone()
	return c
}

// Load reads the YAML file, creating it with defaults when missing, then
// applies .env and ORBITCHAT_* environment overrides. Overrides are not
// written back to the file.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.configFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.file = c.Settings.clone()
		if err := c.saveInternal(); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if err := yaml.Unmarshal(data, &c.Settings); err != nil {
			return fmt.Errorf("parse %s: %w", c.configFile, err)
		}
		c.file = c.Settings.clone()
	}

	_ = godotenv.Load(".env")
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return c.validate()
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "pebble", "file", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.Catalog != nil {
		if err := engine.ValidateCatalog(c.Catalog); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Host + ":" + c.Port
}

func (c *Config) saveInternal() error {
	data, err := yaml.Marshal(&c.file)
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) IsBanned(accountID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.BannedAccounts, accountID)
}

func (c *Config) Ban(accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.BannedAccounts, accountID) {
		return nil
	}
	c.BannedAccounts = append(c.BannedAccounts, accountID)
	c.file.BannedAccounts = slices.Clone(c.BannedAccounts)
	return c.saveInternal()
}

func (c *Config) Unban(accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BannedAccounts = slices.DeleteFunc(c.BannedAccounts, func(id string) bool { return id == accountID })
	c.file.BannedAccounts = slices.Clone(c.BannedAccounts)
	return c.saveInternal()
}
