package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"

	"github.com/dgen-network/walletd/internal/core/ports"
)

const (
	// DatadirKey is the local data directory to store the internal state of
	// the daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the
	// values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// EngineNetworkKey is the network the wallet engine operates on
	EngineNetworkKey = "ENGINE_NETWORK"
	// EngineAPIKeyKey is the API key for the external wallet engine
	EngineAPIKeyKey = "ENGINE_API_KEY"
	// LiquidExplorerURLKey is the esplora endpoint used by the engine for
	// the Liquid chain
	LiquidExplorerURLKey = "LIQUID_EXPLORER_URL"
	// BitcoinExplorerURLKey is the esplora endpoint used by the engine for
	// the Bitcoin chain
	BitcoinExplorerURLKey = "BITCOIN_EXPLORER_URL"
	// RegistrarURLKey is the base URL of the lightning address registrar,
	// its host is also the address domain
	RegistrarURLKey = "REGISTRAR_URL"
	// WebhookURLKey is the URL the registrar notifies on inbound payments
	WebhookURLKey = "WEBHOOK_URL"
	// PollIntervalKey is the period of the event-sync polling fallback
	PollIntervalKey = "POLL_INTERVAL"
	// UserIDKey identifies the wallet owner, it namespaces the vault and
	// the key store entries
	UserIDKey = "USER_ID"
	// UsernameKey is the preferred lightning address username, empty means
	// derive one from the wallet pubkey
	UsernameKey = "USERNAME"
	// AutoUnlockKey makes the daemon unlock the saved wallet at startup
	AutoUnlockKey = "AUTO_UNLOCK"

	DbLocation    = "db"
	VaultLocation = "vault"
	LogsLocation  = "logs"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("walletd", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("WALLETD")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(EngineNetworkKey, "mainnet")
	vip.SetDefault(LiquidExplorerURLKey, "https://blockstream.info/liquid/api")
	vip.SetDefault(BitcoinExplorerURLKey, "https://blockstream.info/api")
	vip.SetDefault(RegistrarURLKey, "https://breez.fun")
	vip.SetDefault(PollIntervalKey, time.Minute)
	vip.SetDefault(UserIDKey, "default")
	vip.SetDefault(AutoUnlockKey, false)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

// GetEngineConfig assembles the engine connection parameters out of the
// config values.
func GetEngineConfig() ports.EngineConfig {
	return ports.EngineConfig{
		Network:            GetString(EngineNetworkKey),
		APIKey:             GetString(EngineAPIKeyKey),
		WorkingDir:         filepath.Join(GetDatadir(), DbLocation),
		LiquidExplorerURL:  GetString(LiquidExplorerURLKey),
		BitcoinExplorerURL: GetString(BitcoinExplorerURLKey),
	}
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	network := GetString(EngineNetworkKey)
	if network != "mainnet" && network != "testnet" && network != "regtest" {
		return fmt.Errorf(
			"%s must be one of mainnet, testnet, regtest", EngineNetworkKey,
		)
	}

	if !validateURL(GetString(RegistrarURLKey)) {
		return fmt.Errorf("please provide a valid registrar url")
	}
	if webhookURL := GetString(WebhookURLKey); len(webhookURL) > 0 {
		if !validateURL(webhookURL) {
			return fmt.Errorf("please provide a valid webhook url")
		}
	}

	if GetDuration(PollIntervalKey) <= 0 {
		return fmt.Errorf("%s must be a positive duration", PollIntervalKey)
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	for _, location := range []string{DbLocation, VaultLocation, LogsLocation} {
		if err := makeDirectoryIfNotExists(
			filepath.Join(datadir, location),
		); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func validateURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") &&
		len(parsed.Host) > 0
}
