package provider

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Settings tunes how each provider is called.
type Settings struct {
	Defaults  ProviderSettings          `yaml:"defaults"`
	Providers map[Name]ProviderSettings `yaml:"providers"`
}

// ProviderSettings configures one provider. Zero values fall back to
// Settings.Defaults.
type ProviderSettings struct {
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	TimeoutSecs    int     `yaml:"timeout_secs"`
	MaxTokens      int     `yaml:"max_tokens"`
	RatePerMinute  float64 `yaml:"rate_per_minute"`
	Burst          int     `yaml:"burst"`
	Temperature    float64 `yaml:"temperature"`
	MaxAttempts    int     `yaml:"max_attempts"`
	BreakerFails   int     `yaml:"breaker_failures"`
	BreakerCoolSec int     `yaml:"breaker_cooldown_secs"`
	// SearchRecency limits Perplexity web search ("day" .. "year").
	SearchRecency string `yaml:"search_recency"`
}

// Timeout is the per-call deadline.
func (s ProviderSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// DefaultSettings returns the built-in models and limits.
func DefaultSettings() Settings {
	return Settings{
		Defaults: ProviderSettings{
			TimeoutSecs:    60,
			MaxTokens:      2048,
			RatePerMinute:  60,
			Burst:          5,
			Temperature:    0.2,
			MaxAttempts:    3,
			BreakerFails:   5,
			BreakerCoolSec: 30,
		},
		Providers: map[Name]ProviderSettings{
			Anthropic:  {Model: "claude-sonnet-4-5-20250929", RatePerMinute: 50},
			Perplexity: {Model: "sonar", RatePerMinute: 50},
			Gemini:     {Model: "gemini-2.5-flash", RatePerMinute: 60},
		},
	}
}

// LoadSettings reads a YAML settings file over the defaults. An empty path
// returns the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, eris.Wrapf(err, "provider: read settings %s", path)
	}

	var file Settings
	if err := yaml.Unmarshal(data, &file); err != nil {
		return s, eris.Wrap(err, "provider: parse settings")
	}

	s.Defaults = merge(s.Defaults, file.Defaults)
	for name, ps := range file.Providers {
		if !name.Valid() {
			return s, eris.Errorf("provider: settings for unknown provider %q", name)
		}
		s.Providers[name] = merge(s.Providers[name], ps)
	}
	return s, nil
}

// For returns name's settings with defaults applied.
func (s Settings) For(name Name) ProviderSettings {
	return merge(s.Defaults, s.Providers[name])
}

// merge overlays the non-zero fields of top onto base.
func merge(base, top ProviderSettings) ProviderSettings {
	if top.Model != "" {
		base.Model = top.Model
	}
	if top.BaseURL != "" {
		base.BaseURL = top.BaseURL
	}
	if top.TimeoutSecs > 0 {
		base.TimeoutSecs = top.TimeoutSecs
	}
	if top.MaxTokens > 0 {
		base.MaxTokens = top.MaxTokens
	}
	if top.RatePerMinute > 0 {
		base.RatePerMinute = top.RatePerMinute
	}
	if top.Burst > 0 {
		base.Burst = top.Burst
	}
	if top.Temperature > 0 {
		base.Temperature = top.Temperature
	}
	if top.MaxAttempts > 0 {
		base.MaxAttempts = top.MaxAttempts
	}
	if top.BreakerFails > 0 {
		base.BreakerFails = top.BreakerFails
	}
	if top.BreakerCoolSec > 0 {
		base.BreakerCoolSec = top.BreakerCoolSec
	}
	if top.SearchRecency != "" {
		base.SearchRecency = top.SearchRecency
	}
	return base
}
