// Package config holds the environment-driven configuration for the
// call agent and the relay.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Agent is the call agent's configuration.
type Agent struct {
	RelayURL      string        // WebSocket URL of the signaling relay
	UserID        string        // local user identifier, required
	UserName      string        // display name sent with call-requests
	STUNServers   []string      // ICE servers for candidate gathering
	SessionAPIURL string        // base URL of the session bookkeeping API, optional
	RingTimeout   time.Duration // incoming-call auto-reject timeout
	Debug         bool
}

// Relay is the relay server's configuration.
type Relay struct {
	Addr string // listen address
}

// AgentFromEnv reads the agent configuration from RTC_* environment
// variables. Every field except the user id has a default.
func AgentFromEnv() (Agent, error) {
	cfg := Agent{
		RelayURL:      envOr("RTC_RELAY_URL", "ws://127.0.0.1:8791"),
		UserID:        os.Getenv("RTC_USER_ID"),
		UserName:      os.Getenv("RTC_USER_NAME"),
		SessionAPIURL: os.Getenv("RTC_SESSION_API"),
		RingTimeout:   30 * time.Second,
		Debug:         os.Getenv("RTC_DEBUG") == "1" || strings.EqualFold(os.Getenv("RTC_DEBUG"), "true"),
	}

	if raw := os.Getenv("RTC_STUN_SERVERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
				return Agent{}, fmt.Errorf("RTC_STUN_SERVERS: %q is not a stun: URL", s)
			}
			cfg.STUNServers = append(cfg.STUNServers, s)
		}
	}

	if raw := os.Getenv("RTC_RING_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Agent{}, fmt.Errorf("RTC_RING_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return Agent{}, fmt.Errorf("RTC_RING_TIMEOUT: must be positive, got %s", d)
		}
		cfg.RingTimeout = d
	}

	if cfg.UserName == "" {
		cfg.UserName = cfg.UserID
	}
	return cfg, nil
}

// Validate checks the fields that have no usable default.
func (a Agent) Validate() error {
	if a.UserID == "" {
		return fmt.Errorf("user id is required (RTC_USER_ID or -user)")
	}
	if !strings.HasPrefix(a.RelayURL, "ws://") && !strings.HasPrefix(a.RelayURL, "wss://") {
		return fmt.Errorf("relay URL must be a ws:// or wss:// URL, got %q", a.RelayURL)
	}
	return nil
}

// RelayFromEnv reads the relay configuration.
func RelayFromEnv() Relay {
	return Relay{
		Addr: envOr("RTC_RELAY_ADDR", ":8791"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
