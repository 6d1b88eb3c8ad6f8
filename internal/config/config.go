// Package config loads coordinator configuration from the environment.
package config

import (
	"os"
	"strconv"
)

// Defaults point at Algorand testnet via AlgoNode (no token required).
const (
	DefaultAlgodServer   = "https://testnet-api.algonode.cloud"
	DefaultIndexerServer = "https://testnet-idx.algonode.cloud"
)

// Config carries every environment option the coordinator recognizes.
type Config struct {
	Port string

	AlgodServer string
	AlgodToken  string
	AlgodPort   string

	IndexerServer string
	IndexerToken  string

	PinataJWT string

	AppID            uint64
	AdminPrivateKey  string // base64 signing key of the operator
	DeployerMnemonic string
}

// FromEnv reads the environment. Missing keys fall back to testnet defaults;
// the app id parses to zero when unset, which disables on-chain calls.
func FromEnv() *Config {
	cfg := &Config{
		Port:             getenv("PORT", "8080"),
		AlgodServer:      getenv("ALGOD_SERVER", DefaultAlgodServer),
		AlgodToken:       os.Getenv("ALGOD_TOKEN"),
		AlgodPort:        getenv("ALGOD_PORT", "443"),
		IndexerServer:    getenv("INDEXER_SERVER", DefaultIndexerServer),
		IndexerToken:     os.Getenv("INDEXER_TOKEN"),
		PinataJWT:        os.Getenv("PINATA_JWT"),
		AdminPrivateKey:  os.Getenv("ADMIN_PRIVATE_KEY"),
		DeployerMnemonic: os.Getenv("DEPLOYER_MNEMONIC"),
	}

	if raw := os.Getenv("EVIDENCE_REGISTRY_APP_ID"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			cfg.AppID = id
		}
	}

	return cfg
}

// OnChainEnabled reports whether the coordinator can submit application
// calls: it needs a deployed registry and an operator signer.
func (c *Config) OnChainEnabled() bool {
	return c.AppID != 0 && c.AdminPrivateKey != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
