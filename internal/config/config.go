// Package config loads the orchestrator's YAML configuration, overlaying
// environment variables, and hands out defaults the way
// internal/sessions.DefaultCockroachConfig did in the teacher repo: one
// Default() constructor per sub-config rather than struct tags driving
// zero-value behaviour.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level orchestrator configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	MCP       MCPConfig       `yaml:"mcp"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Engine    EngineConfig    `yaml:"engine"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Outbound  OutboundConfig  `yaml:"outbound"`
	Coding    CodingConfig    `yaml:"coding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the process-level HTTP listeners.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"` // trigger intake HTTP
}

// StoreConfig configures the SQLite-backed memory store.
type StoreConfig struct {
	Path                string `yaml:"path"`
	EmbeddingDimension   int   `yaml:"embedding_dimension"`
	CompactThreshold     int   `yaml:"compact_threshold"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider  string `yaml:"provider"` // e.g. "openai"
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// SchedulerConfig configures alarm polling tolerances.
type SchedulerConfig struct {
	FireWindow time.Duration `yaml:"fire_window"`
	MissWindow time.Duration `yaml:"miss_window"`
}

// MCPConfig configures the MCP service and its inverted-WebSocket transport.
type MCPConfig struct {
	ProtocolVersion string        `yaml:"protocol_version"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	BridgeHTTPAddr  string        `yaml:"bridge_http_addr"` // sandbox-local HTTP-MCP listen addr
	BridgeWSAddr    string        `yaml:"bridge_ws_addr"`   // sandbox-local WS-UPLINK listen addr
}

// SandboxConfig configures the sandbox adapter (Daytona-backed).
type SandboxConfig struct {
	APIURL           string        `yaml:"api_url"`
	APIKey           string        `yaml:"api_key"`
	ReadyPollRetries int           `yaml:"ready_poll_retries"`
	ReadyPollDelay   time.Duration `yaml:"ready_poll_delay"`
}

// EngineConfig configures the reasoning-engine client contract.
type EngineConfig struct {
	BaseURL        string        `yaml:"base_url"`
	PromptTimeout  time.Duration `yaml:"prompt_timeout"`
}

// TriggerConfig configures webhook intake.
type TriggerConfig struct {
	WebhookSecret string   `yaml:"webhook_secret"`
	AllowedUsers  []string `yaml:"allowed_users"`
}

// OutboundConfig configures the chat sink.
type OutboundConfig struct {
	BotToken      string `yaml:"bot_token"`
	OwnerChatID   string `yaml:"owner_chat_id"`
}

// CodingConfig configures GitHub App installation-token minting.
type CodingConfig struct {
	GitHubAppClientID     string        `yaml:"github_app_client_id"`
	GitHubAppPrivateKeyPEM string       `yaml:"github_app_private_key_pem"`
	GitHubAppInstallID    string        `yaml:"github_app_install_id"`
	StaleAfter            time.Duration `yaml:"stale_after"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
}

// Default returns the configuration defaults, matching the magic numbers
// named throughout spec.md (§4.1, §4.3, §4.5, §4.8, §4.9, §4.10).
func Default() Config {
	return Config{
		Server: ServerConfig{ListenAddr: ":8080"},
		Store: StoreConfig{
			Path:               "outie.db",
			EmbeddingDimension: 1536,
			CompactThreshold:   50000,
		},
		Embedder: EmbedderConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		Scheduler: SchedulerConfig{
			FireWindow: time.Minute,
			MissWindow: time.Minute,
		},
		MCP: MCPConfig{
			ProtocolVersion: "2025-03-26",
			RequestTimeout:  30 * time.Second,
			BridgeHTTPAddr:  "127.0.0.1:7890",
			BridgeWSAddr:    "127.0.0.1:7891",
		},
		Sandbox: SandboxConfig{
			ReadyPollRetries: 30,
			ReadyPollDelay:   time.Second,
		},
		Engine: EngineConfig{
			PromptTimeout: 10 * time.Minute,
		},
		Coding: CodingConfig{
			StaleAfter: 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies OUTIE_-prefixed environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OUTIE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("OUTIE_EMBEDDER_API_KEY"); v != "" {
		cfg.Embedder.APIKey = v
	}
	if v := os.Getenv("OUTIE_WEBHOOK_SECRET"); v != "" {
		cfg.Trigger.WebhookSecret = v
	}
	if v := os.Getenv("OUTIE_OWNER_CHAT_ID"); v != "" {
		cfg.Outbound.OwnerChatID = v
	}
	if v := os.Getenv("OUTIE_BOT_TOKEN"); v != "" {
		cfg.Outbound.BotToken = v
	}
	if v := os.Getenv("OUTIE_ALLOWED_USERS"); v != "" {
		cfg.Trigger.AllowedUsers = strings.Split(v, ",")
	}
	if v := os.Getenv("OUTIE_SANDBOX_API_KEY"); v != "" {
		cfg.Sandbox.APIKey = v
	}
	if v := os.Getenv("OUTIE_GITHUB_APP_CLIENT_ID"); v != "" {
		cfg.Coding.GitHubAppClientID = v
	}
	if v := os.Getenv("OUTIE_GITHUB_APP_PRIVATE_KEY_PEM"); v != "" {
		cfg.Coding.GitHubAppPrivateKeyPEM = v
	}
	if v := os.Getenv("OUTIE_GITHUB_APP_INSTALL_ID"); v != "" {
		cfg.Coding.GitHubAppInstallID = v
	}
	if v := os.Getenv("OUTIE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OUTIE_COMPACT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.CompactThreshold = n
		}
	}
}
