package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	AppName     = "image-poet"
	EnvFileName = "config.env"
)

const (
	CaptionBackendGemini = "gemini"
	CaptionBackendOllama = "ollama"
	ChatBackendZhipu     = "zhipu"
	ChatBackendGemini    = "gemini"
)

// Config holds runtime settings. Values come from the optional YAML file
// named by POET_CONFIG, then environment variables, which take precedence.
type Config struct {
	BotToken       string `yaml:"bot_token"`
	AdminID        int64  `yaml:"admin_telegram_id"`
	ZhipuAPIKey    string `yaml:"zhipu_api_key"`
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	CaptionBackend string `yaml:"caption_backend"`
	CaptionModel   string `yaml:"caption_model"`
	ChatBackend    string `yaml:"chat_backend"`
	ChatModel      string `yaml:"chat_model"`
	DBPath         string `yaml:"db_path"`
	HTTPAddr       string `yaml:"http_addr"`
	// CaptionCacheDays is how long cached captions are kept. 0 keeps them
	// forever.
	CaptionCacheDays int `yaml:"caption_cache_days"`
}

// Dir returns the application's config directory, creating it if needed.
func Dir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	configDir := filepath.Join(configBase, AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// EnvFilePath returns the full path to config.env.
func EnvFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	path, err := EnvFilePath()
	if err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// Load reads the YAML file named by POET_CONFIG (if set) and applies
// environment overrides and defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv("POET_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, cfg.validate()
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"BOT_TOKEN":       &c.BotToken,
		"ZHIPU_API_KEY":   &c.ZhipuAPIKey,
		"GEMINI_API_KEY":  &c.GeminiAPIKey,
		"CAPTION_BACKEND": &c.CaptionBackend,
		"CAPTION_MODEL":   &c.CaptionModel,
		"CHAT_BACKEND":    &c.ChatBackend,
		"CHAT_MODEL":      &c.ChatModel,
		"POET_DB_PATH":    &c.DBPath,
		"HTTP_ADDR":       &c.HTTPAddr,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("ADMIN_TELEGRAM_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ADMIN_TELEGRAM_ID must be a valid integer: %w", err)
		}
		c.AdminID = id
	}
	if v := os.Getenv("CAPTION_CACHE_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CAPTION_CACHE_DAYS must be a valid integer: %w", err)
		}
		c.CaptionCacheDays = days
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.CaptionBackend == "" {
		c.CaptionBackend = CaptionBackendGemini
	}
	if c.ChatBackend == "" {
		c.ChatBackend = ChatBackendZhipu
	}
	if c.DBPath == "" {
		c.DBPath = "poet.db"
	}
}

func (c *Config) validate() error {
	switch c.CaptionBackend {
	case CaptionBackendGemini, CaptionBackendOllama:
	default:
		return fmt.Errorf("unknown CAPTION_BACKEND %q (want %s or %s)", c.CaptionBackend, CaptionBackendGemini, CaptionBackendOllama)
	}
	switch c.ChatBackend {
	case ChatBackendZhipu, ChatBackendGemini:
	default:
		return fmt.Errorf("unknown CHAT_BACKEND %q (want %s or %s)", c.ChatBackend, ChatBackendZhipu, ChatBackendGemini)
	}
	return nil
}

// MissingModelKeys lists the API key variables the selected backends need
// but which are unset.
func (c *Config) MissingModelKeys() []string {
	var missing []string
	if (c.CaptionBackend == CaptionBackendGemini || c.ChatBackend == ChatBackendGemini) && c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.ChatBackend == ChatBackendZhipu && c.ZhipuAPIKey == "" {
		missing = append(missing, "ZHIPU_API_KEY")
	}
	return missing
}

// MissingBotKeys lists the variables the Telegram bot needs but which are
// unset.
func (c *Config) MissingBotKeys() []string {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if c.AdminID == 0 {
		missing = append(missing, "ADMIN_TELEGRAM_ID")
	}
	return missing
}
