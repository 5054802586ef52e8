// Package config loads gateway configuration from the environment and an
// optional YAML file. Environment variables use the ASSIST_ prefix, e.g.
// ASSIST_OPENAI_API_KEY or ASSIST_GATEWAY_POLL_BUDGET_MS.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ASSIST_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	OpenAI   OpenAIConfig   `koanf:"openai"`
	Gateway  GatewayConfig  `koanf:"gateway"`
	AuditLog AuditLogConfig `koanf:"log"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type OpenAIConfig struct {
	APIKey      string `koanf:"api_key"`
	AssistantID string `koanf:"assistant_id"`
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string `koanf:"base_url"`
}

// Configured reports whether the remote credential and assistant identifier
// are both present. A missing value is a deployment mistake surfaced as a 500
// at request time, matching the platform the gateway is fronting for.
func (c OpenAIConfig) Configured() bool {
	return c.APIKey != "" && c.AssistantID != ""
}

type GatewayConfig struct {
	// AllowOrigin is a comma-separated browser origin allow-list.
	AllowOrigin string `koanf:"allow_origin"`
	// EmailDomain is the institutional mail domain suffix submitters must use.
	EmailDomain string `koanf:"email_domain"`
	// PollBudgetMS bounds the synchronous fast-poll after a run is created.
	PollBudgetMS int `koanf:"poll_budget_ms"`
}

// PollBudget returns the fast-poll budget as a duration.
func (c GatewayConfig) PollBudget() time.Duration {
	return time.Duration(c.PollBudgetMS) * time.Millisecond
}

type AuditLogConfig struct {
	WebhookURL string `koanf:"webhook_url"`
	Token      string `koanf:"token"`
}

// Load builds the configuration from an optional YAML file at path (skipped
// when path is empty or the file does not exist) with environment variables
// layered on top.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	// ASSIST_OPENAI_API_KEY -> openai.api_key: only the first underscore
	// separates the section from the key.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("gateway.email_domain") {
		k.Set("gateway.email_domain", "edisonschools.edu.vn")
	}
	if !k.Exists("gateway.poll_budget_ms") {
		k.Set("gateway.poll_budget_ms", 9000)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
