package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

func TestDefaultDescriptorsCoverAllAgentTypes(t *testing.T) {
	descriptors := DefaultDescriptors()
	for _, at := range models.AllAgentTypes() {
		desc, ok := descriptors[at]
		if !ok {
			t.Errorf("no default descriptor for %s", at)
			continue
		}
		if desc.Type != at {
			t.Errorf("descriptor for %s declares type %s", at, desc.Type)
		}
		if desc.Capacity <= 0 {
			t.Errorf("descriptor for %s has capacity %d", at, desc.Capacity)
		}
		if desc.Timeout <= 0 {
			t.Errorf("descriptor for %s has no timeout", at)
		}
		if desc.Retry.MaxAttempts <= 0 {
			t.Errorf("descriptor for %s has no retry budget", at)
		}
		if !desc.Tier.Valid() {
			t.Errorf("descriptor for %s has invalid tier %q", at, desc.Tier)
		}
	}
}

func TestDefaultFallbackTiersAreCheaper(t *testing.T) {
	for at, desc := range DefaultDescriptors() {
		if desc.FallbackTier == "" {
			continue
		}
		if !desc.FallbackTier.Valid() {
			t.Errorf("%s fallback tier %q invalid", at, desc.FallbackTier)
		}
		if desc.Tier.Downgrade() != desc.FallbackTier {
			t.Errorf("%s fallback %s is not one tier below %s", at, desc.FallbackTier, desc.Tier)
		}
	}
}

func TestLoadFromPathAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
anthropic:
  api_key: test-key
  use_bedrock: true
  aws_region: eu-west-1
storage:
  db_path: /tmp/custom.db
agents:
  weather:
    capacity: 8
    max_attempts: 5
    tier: standard
  budget:
    retry_validation: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
	if !cfg.Anthropic.UseBedrock || cfg.Anthropic.AWSRegion != "eu-west-1" {
		t.Errorf("bedrock settings = %+v", cfg.Anthropic)
	}
	if got := cfg.DBPath("default.db"); got != "/tmp/custom.db" {
		t.Errorf("DBPath() = %q", got)
	}

	descriptors := cfg.Descriptors()
	weather := descriptors[models.AgentWeather]
	if weather.Capacity != 8 {
		t.Errorf("weather capacity %d, want 8", weather.Capacity)
	}
	if weather.Retry.MaxAttempts != 5 {
		t.Errorf("weather max attempts %d, want 5", weather.Retry.MaxAttempts)
	}
	if weather.Tier != models.TierStandard {
		t.Errorf("weather tier %s, want standard", weather.Tier)
	}
	// Untouched fields keep the defaults.
	if weather.Timeout != DefaultDescriptors()[models.AgentWeather].Timeout {
		t.Errorf("weather timeout changed to %v", weather.Timeout)
	}
	if !descriptors[models.AgentBudget].Retry.RetryValidation {
		t.Error("budget retry_validation override not applied")
	}
	// Types without overrides are untouched.
	if descriptors[models.AgentPlanning].Tier != models.TierPremium {
		t.Errorf("planning tier = %s", descriptors[models.AgentPlanning].Tier)
	}
}

func TestDescriptorsIgnoreUnknownAgentTypes(t *testing.T) {
	cfg := &Config{Agents: map[string]AgentConfig{
		"teleporter": {Capacity: 99},
	}}
	descriptors := cfg.Descriptors()
	if len(descriptors) != len(models.AllAgentTypes()) {
		t.Errorf("unknown agent type leaked into descriptors: %v", descriptors)
	}
}

func TestLoadFromPathExpandsEnvInAPIKey(t *testing.T) {
	t.Setenv("VOYAGER_TEST_KEY", "expanded-secret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "anthropic:\n  api_key: ${VOYAGER_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.Anthropic.APIKey != "expanded-secret" {
		t.Errorf("api key = %q, want expanded value", cfg.Anthropic.APIKey)
	}
}

func TestDBPathDefault(t *testing.T) {
	cfg := Default()
	if got := cfg.DBPath("fallback.db"); got != "fallback.db" {
		t.Errorf("DBPath() = %q, want fallback", got)
	}
	if cfg.Dispatch.PollInterval != 25*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Dispatch.PollInterval)
	}
}
