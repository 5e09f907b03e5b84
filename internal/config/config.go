// Package config provides configuration loading and management for the identity ledger service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// The loading order ensures that system environment variables take precedence over .env files.
func init() {
	// godotenv.Load() does not override already-set environment variables,
	// preserving OS env > .env precedence

	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the identity ledger service.
type Config struct {
	Env               string        // Deployment environment (dev, staging, prod)
	Address           string        // HTTP server address (e.g., ":8080")
	MetricsAddress    string        // Metrics server address (e.g., ":9090")
	StoreBackend      string        // Account storage backend (memory, postgres, sqlite)
	DatabaseDSN       string        // Database connection string (PostgreSQL)
	SQLitePath        string        // Database file (SQLite)
	IdentityProgram   model.Pubkey  // Program id owning identity accounts
	FactoryProgram    model.Pubkey  // Program id owning the factory and deriving identity addresses
	FactoryInstance   string        // Seed distinguishing the factory account
	RequireSignatures bool          // Whether mutating requests must carry a valid X-Signature
	RelayerPublicKey  []byte        // Ed25519 key seeded as the first relayer token key
	RelayerKeyID      string        // Key id ("kid") of the seeded relayer key
	RelayerAudience   string        // Expected audience of relayer tokens
	RelayerIssuer     string        // Expected issuer of relayer tokens
	RelayPeersFile    string        // YAML file listing accepted source endpoints
	RelayPeers        []Peer        // Parsed content of RelayPeersFile
	RateLimitRPS      float64       // Sustained write requests per second
	RateLimitBurst    int           // Write request burst size
	LogLevel          slog.Level    // Minimum log level
	LogFormat         string        // Log handler (json, text)
	RequestTimeout    time.Duration // Per-request deadline
}

// Default configuration values used when environment variables are not set
const (
	defaultAddress         = ":8080"                                        // Default HTTP server port
	defaultMetricsAddress  = ":9090"                                        // Default metrics server port
	defaultIdentityProgram = "8DXtpG31GL4L215EeREcPhQCFgFjWcWQjX27d9XEFsRo" // Default identity program id
	defaultFactoryProgram  = "Fg6PaFpoGXkYsidMpWFK1THCyGDMhJWAXR2ZsD6xXc6C" // Default factory program id
	defaultFactoryInstance = "main"                                         // Default factory seed
	defaultRelayerKeyID    = "relayer-1"                                    // Default relayer key id
	defaultAudience        = "registryaccord-onchainid"                     // Default relayer token audience
	defaultIssuer          = "registryaccord-relayer"                       // Default relayer token issuer
	defaultSQLitePath      = "onchainid.db"                                 // Default SQLite file
	defaultRateLimitRPS    = 20                                             // Default write requests per second
	defaultRateLimitBurst  = 40                                             // Default write burst
	defaultRequestTimeout  = 30 * time.Second                               // Default request deadline
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// It handles both required and optional configuration parameters, providing defaults where appropriate.
// Returns an error if a parameter is present but invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:             getEnv("ID_ENV", "dev"),
		Address:         getEnv("ID_HTTP_ADDR", defaultAddress),
		MetricsAddress:  getEnv("ID_METRICS_ADDR", defaultMetricsAddress),
		StoreBackend:    strings.ToLower(getEnv("ID_STORE_BACKEND", "memory")),
		DatabaseDSN:     os.Getenv("ID_DB_DSN"),
		SQLitePath:      getEnv("ID_SQLITE_PATH", defaultSQLitePath),
		FactoryInstance: getEnv("ID_FACTORY_SEED", defaultFactoryInstance),
		RelayerKeyID:    getEnv("ID_RELAYER_KEY_ID", defaultRelayerKeyID),
		RelayerAudience: getEnv("ID_RELAYER_JWT_AUD", defaultAudience),
		RelayerIssuer:   getEnv("ID_RELAYER_JWT_ISS", defaultIssuer),
		RelayPeersFile:  os.Getenv("ID_RELAY_PEERS_FILE"),
		LogFormat:       strings.ToLower(getEnv("ID_LOG_FORMAT", "json")),
	}

	switch cfg.StoreBackend {
	case "memory", "sqlite":
	case "postgres":
		if cfg.DatabaseDSN == "" {
			return Config{}, errors.New("ID_DB_DSN is required for the postgres backend")
		}
	default:
		return Config{}, fmt.Errorf("unsupported ID_STORE_BACKEND %q", cfg.StoreBackend)
	}

	var err error
	if cfg.IdentityProgram, err = model.ParsePubkey(getEnv("ID_IDENTITY_PROGRAM_ID", defaultIdentityProgram)); err != nil {
		return Config{}, fmt.Errorf("invalid ID_IDENTITY_PROGRAM_ID: %w", err)
	}
	if cfg.FactoryProgram, err = model.ParsePubkey(getEnv("ID_FACTORY_PROGRAM_ID", defaultFactoryProgram)); err != nil {
		return Config{}, fmt.Errorf("invalid ID_FACTORY_PROGRAM_ID: %w", err)
	}

	// Signature checking is on by default outside of dev
	cfg.RequireSignatures = cfg.Env != "dev"
	if raw, exists := os.LookupEnv("ID_REQUIRE_SIGNATURES"); exists {
		cfg.RequireSignatures = parseBool(raw)
	}

	// Relayer public key is optional; without it relay ingress only accepts rotated keys
	if raw, exists := os.LookupEnv("ID_RELAYER_PUBLIC_KEY"); exists && raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ID_RELAYER_PUBLIC_KEY base64: %w", err)
		}
		if len(key) != ed25519.PublicKeySize {
			return Config{}, fmt.Errorf("ID_RELAYER_PUBLIC_KEY must be %d bytes", ed25519.PublicKeySize)
		}
		cfg.RelayerPublicKey = key
	}

	if cfg.RateLimitRPS, err = parsePositiveFloat(getEnv("ID_RATE_LIMIT_RPS", strconv.Itoa(defaultRateLimitRPS))); err != nil {
		return Config{}, fmt.Errorf("invalid ID_RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitBurst, err = parsePositiveInt(getEnv("ID_RATE_LIMIT_BURST", strconv.Itoa(defaultRateLimitBurst))); err != nil {
		return Config{}, fmt.Errorf("invalid ID_RATE_LIMIT_BURST: %w", err)
	}

	if raw, exists := os.LookupEnv("ID_REQUEST_TIMEOUT_SECONDS"); exists {
		d, err := parseSeconds(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ID_REQUEST_TIMEOUT_SECONDS: %w", err)
		}
		cfg.RequestTimeout = d
	} else {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("ID_LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("invalid ID_LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("unsupported ID_LOG_FORMAT %q", cfg.LogFormat)
	}

	if cfg.RelayPeersFile != "" {
		peers, err := LoadPeers(cfg.RelayPeersFile)
		if err != nil {
			return Config{}, err
		}
		cfg.RelayPeers = peers
	}

	return cfg, nil
}

// NewLogger builds the slog logger described by the configuration.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func parsePositiveInt(raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.New("value must be > 0")
	}
	return v, nil
}

// parseSeconds converts a string representation of seconds to a time.Duration
// Returns an error if the value is not a valid positive integer
func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if seconds <= 0 {
		return 0, errors.New("value must be > 0")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.New("value must be > 0")
	}
	return v, nil
}
