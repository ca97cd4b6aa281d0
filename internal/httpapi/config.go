package httpapi

import (
	"fmt"
	"strings"
	"time"
)

// Config aggregates runtime settings for the HTTP API.
type Config struct {
	ListenAddr            string
	AppSecret             string
	StripeWebhookSecret   string
	StripeAPIKey          string
	HotmartToken          string
	AllowedOrigins        []string
	StoreTimeout          time.Duration
	MaxAllocationAttempts int
}

// Validate ensures the configuration contains sane values. The webhook
// secrets are optional: a deployment may serve only one provider, and the
// Hotmart token check is skipped when no token is configured (matching the
// provider's optional hottok setup).
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen addr is required")
	}
	if strings.TrimSpace(cfg.AppSecret) == "" {
		return fmt.Errorf("app secret is required")
	}
	if cfg.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be greater than zero")
	}
	if cfg.MaxAllocationAttempts <= 0 {
		return fmt.Errorf("max allocation attempts must be greater than zero")
	}
	return nil
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
