package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/evm"
)

// Settings is the process configuration.
type Settings struct {
	// Surface is the identity this process serves.
	Surface string `yaml:"surface"`

	ListenAddr string `yaml:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`

	// HandoffSecret signs and verifies handoff tokens. Required.
	HandoffSecret string `yaml:"handoff_secret"`

	// RedisURL selects the shared store. Empty means an in-process store,
	// which only works for a single instance.
	RedisURL string `yaml:"redis_url"`

	// BaseRPCURL enables on-chain auto-linking.
	BaseRPCURL string `yaml:"base_rpc_url"`
	USDCBase   string `yaml:"usdc_base"`

	// ResolverURL enables name resolution through a remote resolver.
	ResolverURL string `yaml:"resolver_url"`

	ClockSkew     time.Duration `yaml:"clock_skew"`
	CommitTTL     time.Duration `yaml:"commit_ttl"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
}

// DefaultSettings returns the defaults applied before the file and the
// environment.
func DefaultSettings() *Settings {
	return &Settings{
		Surface:       string(trustroute.SurfacePayments),
		ListenAddr:    ":8080",
		GRPCAddr:      ":9090",
		USDCBase:      evm.USDCBase.Hex(),
		VerifyTimeout: evm.DefaultTimeout,
	}
}

// LoadSettings reads path (if non-empty and present) over the defaults and
// then applies environment overrides.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, s); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	s.applyEnvOverrides()
	return s, nil
}

// applyEnvOverrides applies environment variable overrides.
func (s *Settings) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"TRUSTROUTE_SURFACE", &s.Surface},
		{"LISTEN_ADDR", &s.ListenAddr},
		{"GRPC_ADDR", &s.GRPCAddr},
		{"HANDOFF_SECRET", &s.HandoffSecret},
		{"REDIS_URL", &s.RedisURL},
		{"BASE_RPC_URL", &s.BaseRPCURL},
		{"USDC_BASE", &s.USDCBase},
		{"RESOLVER_URL", &s.ResolverURL},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if s.HandoffSecret == "" {
		return fmt.Errorf("handoff secret is required (set HANDOFF_SECRET)")
	}
	if _, err := trustroute.ParseSurface(s.Surface); err != nil {
		return fmt.Errorf("invalid surface: %w", err)
	}
	if _, err := evm.ParseToken(s.USDCBase); err != nil {
		return fmt.Errorf("invalid usdc_base: %w", err)
	}
	if s.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if s.ClockSkew < 0 {
		return fmt.Errorf("clock skew must not be negative")
	}
	return nil
}

// SurfaceID returns the parsed surface. Call Validate first.
func (s *Settings) SurfaceID() trustroute.Surface {
	surface, _ := trustroute.ParseSurface(s.Surface)
	return surface
}
