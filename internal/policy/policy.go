// Package policy loads the coordinator's runtime configuration from the
// environment — DATABASE_URL/BTC_RPC_* and friends — with
// requireEnv/getEnvOrDefault rather than a config file or flags.
package policy

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rawblock/joinmarket-core/internal/chain"
	"github.com/rawblock/joinmarket-core/pkg/models"
)

// Config is the full process configuration: the enumerated POLICY keys
// plus the ambient connection settings main.go reads directly.
type Config struct {
	Policy models.Policy

	DatabaseURL string

	BTCRPCHost string
	BTCRPCUser string
	BTCRPCPass string

	Port string
	APIAuthToken string
	AllowedOrigins string
	ExternalCommitFile string
}

// FromEnv builds a Config from the process environment. Required,
// security-sensitive values (RPC credentials, the auth token) have no
// fallback and abort the process if missing via requireEnv;
// non-sensitive values fall back to sane defaults via getEnvOrDefault.
func FromEnv() (Config, error) {
	takerUtxoRetries, err := getEnvInt("TAKER_UTXO_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	takerUtxoAge, err := getEnvInt64("TAKER_UTXO_AGE", 5)
	if err != nil {
		return Config{}, err
	}
	takerUtxoAmtPct, err := getEnvInt64("TAKER_UTXO_AMTPERCENT", 20)
	if err != nil {
		return Config{}, err
	}
	minimumMakers, err := getEnvInt("MINIMUM_MAKERS", 4)
	if err != nil {
		return Config{}, err
	}
	segwit, err := getEnvBool("SEGWIT", true)
	if err != nil {
		return Config{}, err
	}
	minCJAmount, err := getEnvInt64("MINCJAMOUNT", 100000)
	if err != nil {
		return Config{}, err
	}
	dustThreshold, err := getEnvInt64("DUST_THRESHOLD", 10000)
	if err != nil {
		return Config{}, err
	}
	bitcoinDustThresh, err := getEnvInt64("BITCOIN_DUST_THRESHOLD", 546)
	if err != nil {
		return Config{}, err
	}
	defaultTxFee, err := getEnvInt64("TX_FEE", 5000)
	if err != nil {
		return Config{}, err
	}

	broadcast := models.TxBroadcastMode(getEnvOrDefault("TX_BROADCAST", string(models.BroadcastSelf)))
	switch broadcast {
	case models.BroadcastSelf, models.BroadcastRandomPeer, models.BroadcastNotSelf:
	default:
		return Config{}, fmt.Errorf("policy: TX_BROADCAST %q is not one of self|random-peer|not-self", broadcast)
	}

	return Config{
		Policy: models.Policy{
			TakerUtxoRetries: takerUtxoRetries,
			TakerUtxoAge: takerUtxoAge,
			TakerUtxoAmtPct: takerUtxoAmtPct,
			MinimumMakers: minimumMakers,
			Segwit: segwit,
			TxBroadcast: broadcast,
			MinCJAmount: minCJAmount,
			DustThreshold: dustThreshold,
			BitcoinDustThresh: bitcoinDustThresh,
			DefaultTxFee: defaultTxFee,
		},
		DatabaseURL: requireEnv("DATABASE_URL"),
		BTCRPCHost: getEnvOrDefault("BTC_RPC_HOST", "localhost:8332"),
		BTCRPCUser: requireEnv("BTC_RPC_USER"),
		BTCRPCPass: requireEnv("BTC_RPC_PASS"),
		Port: getEnvOrDefault("PORT", "5339"),
		APIAuthToken: requireEnv("API_AUTH_TOKEN"),
		AllowedOrigins: getEnvOrDefault("ALLOWED_ORIGINS", "*"),
		ExternalCommitFile: getEnvOrDefault("EXTERNAL_COMMITMENT_FILE", "commitments.json"),
	}, nil
}

// ChainConfig adapts Config's RPC settings into chain.Config, threading
// network params explicitly rather than through a global.
func (c Config) ChainConfig(params *chaincfg.Params) chain.Config {
	return chain.Config{Host: c.BTCRPCHost, User: c.BTCRPCUser, Pass: c.BTCRPCPass, Params: params}
}

// requireEnv reads a required environment variable and exits if it is
// not set, a deliberate fail-fast startup behavior.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("policy: %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("policy: %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("policy: %s: %w", key, err)
	}
	return b, nil
}
