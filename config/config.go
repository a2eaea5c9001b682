// Package config loads the engine's recognized configuration keys with
// spf13/viper, the way the rest of the pack's Ark-adjacent services do,
// replacing the teacher's scattered os.Getenv reads in container.go.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every recognized key from spec.md §6 plus the ambient keys
// the logging/metrics stack needs.
type Config struct {
	DemoMode            bool
	UnilateralExitDelay uint32 // blocks
	FeePolicy           string
	ProtocolEndpoint    string
	ItemsPerPage        int
	APIBaseURL          string

	// ServerPubKeyHex and ArbiterPubKeyHex are 32-byte x-only pubkeys, hex
	// encoded. Deployments that let the protocol server also act as
	// arbiter (spec.md's "arbiter = server" scenario) set both to the
	// same value.
	ServerPubKeyHex  string
	ArbiterPubKeyHex string

	LogLevel    string
	MetricsAddr string
}

// defaults mirror the teacher's container.go fallback-to-sane-default
// style (e.g. "https://blockstream.info/api" when BITCOIN_NODE_URL is
// unset).
func defaults() map[string]any {
	return map[string]any{
		"demo_mode":             false,
		"unilateral_exit_delay": 144,
		"fee_policy":            "relative",
		"protocol_endpoint":     "http://localhost:7070",
		"items_per_page":        25,
		"api_base_url":          "http://localhost:8080",
		"server_pubkey":         "",
		"arbiter_pubkey":        "",
		"log_level":             "info",
		"metrics_addr":          ":9090",
	}
}

// Load reads configuration from environment variables (prefixed
// ESCROW_, matching the teacher's STARGATE_-prefixed env convention) and
// an optional config file named configPath, if non-empty.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("escrow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	return &Config{
		DemoMode:            v.GetBool("demo_mode"),
		UnilateralExitDelay: uint32(v.GetInt("unilateral_exit_delay")),
		FeePolicy:           v.GetString("fee_policy"),
		ProtocolEndpoint:    v.GetString("protocol_endpoint"),
		ItemsPerPage:        v.GetInt("items_per_page"),
		APIBaseURL:          v.GetString("api_base_url"),
		ServerPubKeyHex:     v.GetString("server_pubkey"),
		ArbiterPubKeyHex:    v.GetString("arbiter_pubkey"),
		LogLevel:            v.GetString("log_level"),
		MetricsAddr:         v.GetString("metrics_addr"),
	}, nil
}
