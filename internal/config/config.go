package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go-relayer/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	Redis     RedisConfig     `yaml:"redis"`
	Relayer   RelayerConfig   `yaml:"relayer"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	KMS       KMSConfig       `yaml:"kms"`
	CORS      CORSConfig      `yaml:"cors"`  // CORS configuration
	Admin     AdminConfig     `yaml:"admin"` // Admin API access control configuration
}

// ServerConfig server configuration
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	TrustedProxies []string `yaml:"trustedProxies"` // proxies allowed to set X-Forwarded-For; empty trusts none
}

// LogConfig logrus configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DatabaseConfig Database configuration. An empty DSN keeps the submission journal in memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig NATS event publishing configuration. An empty URL disables publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// RedisConfig Redis configuration, used by the shared rate limiter backend
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
	Timeout   int    `yaml:"timeout"`
}

// RelayerConfig operator account, target vault and submission tuning
type RelayerConfig struct {
	Network       string   `yaml:"network"`
	ChainID       int64    `yaml:"chainId"` // expected EVM chain id, 0 accepts whatever the node reports
	RPCEndpoints  []string `yaml:"rpcEndpoints"`
	VaultContract string   `yaml:"vaultContract"`

	// Signing: direct private key or remote KMS
	PrivateKey  string `yaml:"privateKey"` // hex, with or without 0x
	KMSKeyAlias string `yaml:"kmsKeyAlias"`
	KMSAddress  string `yaml:"kmsAddress"` // operator address held by the KMS key

	TxType             string         `yaml:"txType"`             // legacy or dynamic
	GasPrice           string         `yaml:"gasPrice"`           // wei, or "auto"
	GasPriceMultiplier int            `yaml:"gasPriceMultiplier"` // percent applied to suggested price
	GasLimits          GasLimitConfig `yaml:"gasLimits"`

	BroadcastTimeout int `yaml:"broadcastTimeout"` // seconds
	ConfirmTimeout   int `yaml:"confirmTimeout"`   // seconds
	QueueSize        int `yaml:"queueSize"`

	LivenessCheck *bool `yaml:"livenessCheck"` // query the node on /health
}

// GasLimitConfig fixed gas ceilings per operation
type GasLimitConfig struct {
	Deposit  uint64 `yaml:"deposit"`
	Withdraw uint64 `yaml:"withdraw"`
	Mint     uint64 `yaml:"mint"`
	Redeem   uint64 `yaml:"redeem"`
}

// RateLimitConfig fixed-window rate limit applied to relay endpoints
type RateLimitConfig struct {
	Max      int    `yaml:"max"`
	WindowMs int64  `yaml:"windowMs"`
	Backend  string `yaml:"backend"` // memory or redis
}

// KMSConfig KMS service configuration
type KMSConfig struct {
	Enabled    bool   `yaml:"enabled"`    // Whether to enable KMS
	ServiceURL string `yaml:"serviceUrl"` // KMS service address
	AuthToken  string `yaml:"authToken"`  // Authentication token
	K1         string `yaml:"k1"`         // transport key (Base64)
	Timeout    int    `yaml:"timeout"`    // request timeout (seconds)
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`   // List of allowed origins
	AllowCredentials bool     `yaml:"allowCredentials"` // Whether to allow credentials
	MaxAge           int      `yaml:"maxAge"`           // Max age for preflight requests (seconds)
}

// AdminConfig Admin API access control configuration
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"` // List of allowed IP addresses or CIDR ranges
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	TOTPSecret string   `yaml:"totpSecret"`
	JWTSecret  string   `yaml:"jwtSecret"`
	TokenTTL   int      `yaml:"tokenTTL"` // minutes
}

// Defaults
const (
	DefaultPort               = 3000
	DefaultRateLimitMax       = 10
	DefaultRateLimitWindowMs  = 60_000
	DefaultGasLimitDeposit    = 300_000
	DefaultGasLimitWithdraw   = 350_000
	DefaultGasLimitMint       = 300_000
	DefaultGasLimitRedeem     = 350_000
	DefaultGasPriceMultiplier = 120
	DefaultBroadcastTimeout   = 15
	DefaultConfirmTimeout     = 60
	DefaultQueueSize          = 256
	DefaultNATSSubjectPrefix  = "relayer"
	DefaultRedisKeyPrefix     = "relayer:ratelimit:"
	DefaultAdminTokenTTL      = 60
)

// LoadConfig Load configuration file, then apply environment overrides and defaults
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	explicit := configPath != ""
	if !explicit {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			fmt.Printf("🔧 Using local configuration file: config.local.yaml\n")
		}
	}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		fmt.Printf("✅ [%s] Loading configuration from config file: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)
	case !explicit && errors.Is(err, os.ErrNotExist):
		fmt.Printf("📋 [Config] No config file found, using environment variables only\n")
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	overrideFromEnv(&config)
	config.HydrateDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	fmt.Printf("📋 [Config] Relayer: network=%s, vault=%s, rpcEndpoints=%d\n",
		config.Relayer.Network, config.Relayer.VaultContract, len(config.Relayer.RPCEndpoints))
	fmt.Printf("📋 [Config] Rate limit: max=%d per %dms (backend=%s)\n",
		config.RateLimit.Max, config.RateLimit.WindowMs, config.RateLimit.Backend)
	if len(config.Admin.AllowedIPs) > 0 {
		fmt.Printf("📋 [Config] Admin IP whitelist loaded: %d IPs/CIDRs configured\n", len(config.Admin.AllowedIPs))
	} else {
		fmt.Printf("📋 [Config] Admin IP whitelist: not configured (localhost-only mode)\n")
	}

	return &config, nil
}

// HydrateDefaults fills zero values with defaults
func (c *Config) HydrateDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	r := &c.Relayer
	if r.Network == "" {
		r.Network = "mainnet"
	}
	if r.TxType == "" {
		r.TxType = "legacy"
	}
	if r.GasPrice == "" {
		r.GasPrice = "auto"
	}
	if r.GasPriceMultiplier <= 0 {
		r.GasPriceMultiplier = DefaultGasPriceMultiplier
	}
	if r.GasLimits.Deposit == 0 {
		r.GasLimits.Deposit = DefaultGasLimitDeposit
	}
	if r.GasLimits.Withdraw == 0 {
		r.GasLimits.Withdraw = DefaultGasLimitWithdraw
	}
	if r.GasLimits.Mint == 0 {
		r.GasLimits.Mint = DefaultGasLimitMint
	}
	if r.GasLimits.Redeem == 0 {
		r.GasLimits.Redeem = DefaultGasLimitRedeem
	}
	if r.BroadcastTimeout <= 0 {
		r.BroadcastTimeout = DefaultBroadcastTimeout
	}
	if r.ConfirmTimeout <= 0 {
		r.ConfirmTimeout = DefaultConfirmTimeout
	}
	if r.QueueSize <= 0 {
		r.QueueSize = DefaultQueueSize
	}
	if r.LivenessCheck == nil {
		enabled := true
		r.LivenessCheck = &enabled
	}

	if c.RateLimit.Max <= 0 {
		c.RateLimit.Max = DefaultRateLimitMax
	}
	if c.RateLimit.WindowMs <= 0 {
		c.RateLimit.WindowMs = DefaultRateLimitWindowMs
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultNATSSubjectPrefix
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Admin.TokenTTL <= 0 {
		c.Admin.TokenTTL = DefaultAdminTokenTTL
	}
	if c.Admin.Username == "" {
		c.Admin.Username = "admin"
	}
}

// Validate checks the settings the relayer cannot start without
func (c *Config) Validate() error {
	r := c.Relayer
	if len(r.RPCEndpoints) == 0 {
		return fmt.Errorf("relayer.rpcEndpoints is required")
	}
	if !common.IsHexAddress(r.VaultContract) {
		return fmt.Errorf("relayer.vaultContract is not a valid address: %q", r.VaultContract)
	}
	if c.KMS.Enabled {
		if c.KMS.ServiceURL == "" || r.KMSKeyAlias == "" {
			return fmt.Errorf("kms.serviceUrl and relayer.kmsKeyAlias are required when KMS is enabled")
		}
		if !common.IsHexAddress(r.KMSAddress) {
			return fmt.Errorf("relayer.kmsAddress is not a valid address: %q", r.KMSAddress)
		}
	} else if r.PrivateKey == "" {
		return fmt.Errorf("relayer.privateKey is required when KMS is disabled")
	}
	if r.TxType != "legacy" && r.TxType != "dynamic" {
		return fmt.Errorf("relayer.txType must be legacy or dynamic, got %q", r.TxType)
	}
	if r.GasPrice != "auto" {
		if _, err := strconv.ParseUint(r.GasPrice, 10, 64); err != nil {
			return fmt.Errorf("relayer.gasPrice must be a wei amount or auto: %w", err)
		}
	}
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return fmt.Errorf("rateLimit.backend must be memory or redis, got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Backend == "redis" && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required for the redis rate limit backend")
	}
	return nil
}

// GasLimitFor returns the fixed gas ceiling for an operation
func (r RelayerConfig) GasLimitFor(op types.Operation) uint64 {
	switch op {
	case types.OperationDeposit:
		return r.GasLimits.Deposit
	case types.OperationWithdraw:
		return r.GasLimits.Withdraw
	case types.OperationMint:
		return r.GasLimits.Mint
	case types.OperationRedeem:
		return r.GasLimits.Redeem
	}
	return 0
}

// Window returns the rate limit window as a duration
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// overrideFromEnv Override configuration from environment variables
func overrideFromEnv(config *Config) {
	// server configuration
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		config.Server.TrustedProxies = splitAndTrim(proxies)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Log.Format = format
	}

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}

	if redisAddr := os.Getenv("REDIS_ADDRESS"); redisAddr != "" {
		config.Redis.Address = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.Redis.Password = redisPassword
	}

	// relayer configuration
	if network := os.Getenv("NETWORK"); network != "" {
		config.Relayer.Network = network
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			config.Relayer.ChainID = id
		}
	}
	if rpcEndpoints := os.Getenv("RPC_ENDPOINTS"); rpcEndpoints != "" {
		config.Relayer.RPCEndpoints = splitAndTrim(rpcEndpoints)
	} else if rpcURL := os.Getenv("RPC_URL"); rpcURL != "" {
		config.Relayer.RPCEndpoints = []string{rpcURL}
	}
	if vault := os.Getenv("VAULT_CONTRACT"); vault != "" {
		config.Relayer.VaultContract = vault
	}
	// Support both RELAYER_PRIVATE_KEY and the generic PRIVATE_KEY
	if privateKey := os.Getenv("RELAYER_PRIVATE_KEY"); privateKey != "" {
		config.Relayer.PrivateKey = privateKey
		fmt.Printf("✅ [Config] Loaded operator private key from environment variable: RELAYER_PRIVATE_KEY\n")
	} else if privateKey := os.Getenv("PRIVATE_KEY"); privateKey != "" {
		config.Relayer.PrivateKey = privateKey
		fmt.Printf("✅ [Config] Loaded operator private key from environment variable: PRIVATE_KEY\n")
	}
	if gasPrice := os.Getenv("GAS_PRICE"); gasPrice != "" {
		config.Relayer.GasPrice = gasPrice
	}

	// KMS configuration
	if kmsEnabled := os.Getenv("KMS_ENABLED"); kmsEnabled != "" {
		config.KMS.Enabled = kmsEnabled == "true"
	}
	if kmsServiceURL := os.Getenv("KMS_SERVICE_URL"); kmsServiceURL != "" {
		config.KMS.ServiceURL = kmsServiceURL
	}
	if kmsAuthToken := os.Getenv("KMS_AUTH_TOKEN"); kmsAuthToken != "" {
		config.KMS.AuthToken = kmsAuthToken
	}
	if kmsKeyAlias := os.Getenv("KMS_KEY_ALIAS"); kmsKeyAlias != "" {
		config.Relayer.KMSKeyAlias = kmsKeyAlias
	}
	if kmsK1 := os.Getenv("KMS_K1"); kmsK1 != "" {
		config.KMS.K1 = kmsK1
	}

	// rate limit configuration
	if max := os.Getenv("RATE_LIMIT_MAX"); max != "" {
		if m, err := strconv.Atoi(max); err == nil {
			config.RateLimit.Max = m
		}
	}
	if window := os.Getenv("RATE_LIMIT_WINDOW_MS"); window != "" {
		if w, err := strconv.ParseInt(window, 10, 64); err == nil {
			config.RateLimit.WindowMs = w
		}
	}
	if backend := os.Getenv("RATE_LIMIT_BACKEND"); backend != "" {
		config.RateLimit.Backend = backend
	}

	// CORS Configuration
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.CORS.AllowedOrigins = splitAndTrim(corsOrigins)
	}

	// Admin configuration
	if allowedIPs := os.Getenv("ADMIN_ALLOWED_IPS"); allowedIPs != "" {
		config.Admin.AllowedIPs = splitAndTrim(allowedIPs)
	}
	if username := os.Getenv("ADMIN_USERNAME"); username != "" {
		config.Admin.Username = username
	}
	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if totpSecret := os.Getenv("ADMIN_TOTP_SECRET"); totpSecret != "" {
		config.Admin.TOTPSecret = totpSecret
	}
	if jwtSecret := os.Getenv("ADMIN_JWT_SECRET"); jwtSecret != "" {
		config.Admin.JWTSecret = jwtSecret
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
