package app

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"go-relayer/internal/clients"
	"go-relayer/internal/config"
	"go-relayer/internal/db"
	"go-relayer/internal/handlers"
	"go-relayer/internal/repository"
	"go-relayer/internal/router"
	"go-relayer/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// rateLimitEvictionInterval how often expired in-memory rate limit windows are swept
const rateLimitEvictionInterval = time.Minute

// ServiceContainer owns every long-lived service of one relayer process.
// Built once by NewServiceContainer, started with Start and torn down with Shutdown.
type ServiceContainer struct {
	Config *config.Config
	Logger *logrus.Logger

	// Ledger
	ChainClient *ethclient.Client
	Signer      *services.OperatorSigner

	// Database (nil when the journal is kept in memory)
	DB                 *gorm.DB
	PendingTransaction repository.PendingTransactionRepository

	// Rate limiting
	RateLimiter services.RateLimiter
	memLimiter  *services.MemoryRateLimiter
	redisClient *redis.Client

	// Core Services
	Encoder                 *services.VaultEncoder
	BlockchainTxService     *services.BlockchainTransactionService
	TransactionQueueService *services.TransactionQueueService
	NonceService            *services.NonceService
	StatusService           *services.StatusService
	RelayService            *services.RelayService

	// Events
	Publisher clients.EventPublisher

	Router *gin.Engine

	shutdownOnce sync.Once
}

// NewServiceContainer dials the ledger, resolves the operator signer and wires the relay pipeline.
// Nothing runs in the background until Start.
func NewServiceContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*ServiceContainer, error) {
	log.Println("🚀 Initializing Service Container...")

	c := &ServiceContainer{Config: cfg, Logger: logger}

	// 1. Ledger connection
	if err := c.initChain(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger client: %w", err)
	}

	// 2. Journal storage
	if err := c.initRepositories(); err != nil {
		c.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	// 3. Core Services
	if err := c.initCoreServices(ctx); err != nil {
		c.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize core services: %w", err)
	}

	// 4. Event publishing (optional)
	c.initEventServices()

	c.RelayService = services.NewRelayService(
		c.Encoder,
		c.RateLimiter,
		c.TransactionQueueService,
		c.BlockchainTxService,
		c.Publisher,
		time.Duration(cfg.Relayer.ConfirmTimeout)*time.Second,
	)

	// 5. HTTP
	c.Router = router.SetupRouter(cfg, logger, router.Handlers{
		Relay:       handlers.NewRelayHandler(c.RelayService, logger),
		Nonce:       handlers.NewNonceHandler(c.NonceService, logger),
		Health:      handlers.NewHealthHandler(c.StatusService),
		AdminAuth:   handlers.NewAdminAuthHandler(cfg.Admin, logger),
		Submissions: handlers.NewSubmissionsHandler(c.PendingTransaction, c.TransactionQueueService, logger),
	})

	log.Println("✅ Service Container initialized successfully")
	return c, nil
}

func (c *ServiceContainer) initChain(ctx context.Context) error {
	log.Println("🔗 Connecting to ledger...")

	client, chainID, err := services.DialChainClient(ctx, c.Config.Relayer.RPCEndpoints, c.Config.Relayer.ChainID)
	if err != nil {
		return err
	}
	c.ChainClient = client
	log.Printf("✅ Ledger connected: network=%s chainId=%s", c.Config.Relayer.Network, chainID)

	signer, err := c.buildSigner(ctx, chainID.Int64())
	if err != nil {
		client.Close()
		c.ChainClient = nil
		return err
	}
	c.Signer = signer

	txService, err := services.NewBlockchainTransactionService(client, chainID, c.Config.Relayer)
	if err != nil {
		client.Close()
		c.ChainClient = nil
		return err
	}
	c.BlockchainTxService = txService
	return nil
}

// buildSigner 根据配置选择签名方式：KMS 或本地私钥
func (c *ServiceContainer) buildSigner(ctx context.Context, chainID int64) (*services.OperatorSigner, error) {
	r := c.Config.Relayer
	if !c.Config.KMS.Enabled {
		signer, err := services.NewPrivateKeySigner(r.PrivateKey, big.NewInt(chainID))
		if err != nil {
			return nil, fmt.Errorf("invalid operator private key: %w", err)
		}
		log.Printf("🔑 Operator %s (private key signing)", signer.Address().Hex())
		return signer, nil
	}

	kms := clients.NewKMSClient(c.Config.KMS)
	address := common.HexToAddress(r.KMSAddress)

	// the KMS must hold the alias for this chain, and it must be the configured address
	lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := kms.HealthCheck(lookupCtx); err != nil {
		return nil, err
	}
	keyInfo, err := kms.GetKeyByAlias(lookupCtx, r.KMSKeyAlias, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve KMS key %s: %w", r.KMSKeyAlias, err)
	}
	if !strings.EqualFold(keyInfo.PublicAddress, address.Hex()) {
		return nil, fmt.Errorf("KMS key %s holds %s, configured kmsAddress is %s", r.KMSKeyAlias, keyInfo.PublicAddress, address.Hex())
	}

	log.Printf("🔑 Operator %s (KMS signing, alias=%s)", address.Hex(), r.KMSKeyAlias)
	return services.NewKMSSigner(kms, r.KMSKeyAlias, c.Config.KMS.K1, address, big.NewInt(chainID)), nil
}

// initRepositories journal on postgres when a DSN is configured, in memory otherwise
func (c *ServiceContainer) initRepositories() error {
	log.Println("📦 Initializing Repositories...")

	if c.Config.Database.DSN == "" {
		log.Printf("⚠️ No database.dsn configured, submission journal is kept in memory and lost on restart")
		c.PendingTransaction = repository.NewMemoryPendingTransactionRepository()
		return nil
	}

	gdb, err := db.InitDB(c.Config.Database.DSN)
	if err != nil {
		return err
	}
	c.DB = gdb
	c.PendingTransaction = repository.NewPendingTransactionRepository(gdb)

	log.Println("✅ Repositories initialized")
	return nil
}

func (c *ServiceContainer) initCoreServices(ctx context.Context) error {
	log.Println("🔧 Initializing Core Services...")
	r := c.Config.Relayer
	vault := common.HexToAddress(r.VaultContract)

	c.Encoder = services.NewVaultEncoder(vault, r)
	c.NonceService = services.NewNonceService(c.ChainClient, vault)

	c.TransactionQueueService = services.NewTransactionQueueService(
		c.ChainClient,
		c.BlockchainTxService,
		c.Signer,
		c.PendingTransaction,
		services.QueueConfig{
			QueueSize:        r.QueueSize,
			BroadcastTimeout: time.Duration(r.BroadcastTimeout) * time.Second,
		},
	)

	endpoint := ""
	if len(r.RPCEndpoints) > 0 {
		endpoint = r.RPCEndpoints[0]
	}
	c.StatusService = services.NewStatusService(c.ChainClient, c.TransactionQueueService, vault, r.Network, endpoint, *r.LivenessCheck)

	limiter, err := c.buildRateLimiter(ctx)
	if err != nil {
		return err
	}
	c.RateLimiter = limiter

	log.Println("✅ Core services initialized")
	return nil
}

func (c *ServiceContainer) buildRateLimiter(ctx context.Context) (services.RateLimiter, error) {
	rl := c.Config.RateLimit
	if rl.Backend != "redis" {
		c.memLimiter = services.NewMemoryRateLimiter(rl.Max, rl.Window())
		log.Printf("🚦 Rate limiter: memory, %d requests per %s", rl.Max, rl.Window())
		return c.memLimiter, nil
	}

	timeout := 3 * time.Second
	if c.Config.Redis.Timeout > 0 {
		timeout = time.Duration(c.Config.Redis.Timeout) * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         c.Config.Redis.Address,
		Password:     c.Config.Redis.Password,
		DB:           c.Config.Redis.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", c.Config.Redis.Address, err)
	}
	c.redisClient = client
	log.Printf("🚦 Rate limiter: redis (%s), %d requests per %s", c.Config.Redis.Address, rl.Max, rl.Window())
	return services.NewRedisRateLimiter(client, c.Config.Redis.KeyPrefix, rl.Max, rl.Window()), nil
}

// initEventServices NATS is optional: without a URL, or if it cannot connect, events are dropped
func (c *ServiceContainer) initEventServices() {
	c.Publisher = clients.NoopPublisher{}
	if c.Config.NATS.URL == "" {
		log.Printf("📋 NATS not configured, relay events will not be published")
		return
	}
	natsClient, err := clients.NewNATSClient(c.Config.NATS)
	if err != nil {
		log.Printf("⚠️ Event services initialization skipped: %v", err)
		return
	}
	c.Publisher = natsClient
}

// Start recovers in-flight journal records, then starts the submission worker and housekeeping
func (c *ServiceContainer) Start(ctx context.Context) {
	c.TransactionQueueService.Start(ctx)
	if c.memLimiter != nil {
		c.memLimiter.StartEviction(rateLimitEvictionInterval)
	}
	log.Printf("✅ [ServiceContainer] Transaction queue service started")
}

// Shutdown stops background work and releases connections. Safe to call more than once.
func (c *ServiceContainer) Shutdown(_ context.Context) {
	c.shutdownOnce.Do(func() {
		log.Println("🛑 Shutting down services...")

		if c.TransactionQueueService != nil {
			c.TransactionQueueService.Stop()
		}
		if c.memLimiter != nil {
			c.memLimiter.Stop()
		}
		if c.redisClient != nil {
			if err := c.redisClient.Close(); err != nil {
				log.Printf("⚠️ Failed to close redis client: %v", err)
			}
		}
		if c.Publisher != nil {
			c.Publisher.Close()
		}
		if c.DB != nil {
			if err := db.Close(c.DB); err != nil {
				log.Printf("⚠️ Failed to close database: %v", err)
			}
		}
		if c.ChainClient != nil {
			c.ChainClient.Close()
		}

		log.Println("✅ Services stopped")
	})
}
