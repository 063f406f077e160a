package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reset-service/internal/audit"
	"reset-service/internal/bucketing"
	"reset-service/internal/client"
	"reset-service/internal/config"
	"reset-service/internal/hashing"
	redisrepo "reset-service/internal/repository/redis"
	"reset-service/internal/repository/scylla"
	"reset-service/internal/service"
	"reset-service/internal/tls"
	"reset-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient
	smsClient        *client.SMSClient
	credentialClient *client.CredentialClient

	// Managers
	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager

	// Repositories and services
	rateLimitStore      *redisrepo.RateLimitStore
	otpStore            *redisrepo.OTPStore
	directoryRepository *scylla.DirectoryRepository
	auditRecorder       *audit.Recorder
	resetService        *service.ResetService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka (optional, audit stream only)
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// ClickHouse (optional, audit table only)
	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without audit table", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
			util.Info("ClickHouse client initialized")
		}
	}

	// SMS gateway
	if smsClient, err := client.NewSMSClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("sms: %w", err))
	} else {
		f.smsClient = smsClient
		util.Info("SMS client initialized")
	}

	// Credential store
	if credClient, err := client.NewCredentialClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("credential: %w", err))
	} else {
		f.credentialClient = credClient
		util.Info("Credential client initialized")
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing and bucketing managers
func (f *Factory) initializeManagers() error {
	hasher, err := hashing.NewHasher(f.config)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
	return nil
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) RateLimitStore() *redisrepo.RateLimitStore {
	if f.rateLimitStore == nil {
		f.rateLimitStore = redisrepo.NewRateLimitStore(f.redisClient, f.config.RateLimit)
	}
	return f.rateLimitStore
}

func (f *Factory) OTPStore() *redisrepo.OTPStore {
	if f.otpStore == nil {
		f.otpStore = redisrepo.NewOTPStore(f.redisClient)
	}
	return f.otpStore
}

func (f *Factory) DirectoryRepository() *scylla.DirectoryRepository {
	if f.directoryRepository == nil {
		f.directoryRepository = scylla.NewDirectoryRepository(f.scyllaClient)
	}
	return f.directoryRepository
}

func (f *Factory) AuditRecorder() *audit.Recorder {
	if f.auditRecorder == nil {
		f.auditRecorder = audit.NewRecorder(f.kafkaProducer, f.clickhouseClient, f.bucketingManager)
	}
	return f.auditRecorder
}

// ==============================
// Service Initialization
// ==============================

func (f *Factory) ResetService() *service.ResetService {
	if f.resetService == nil {
		f.resetService = service.NewResetService(
			f.config,
			f.RateLimitStore(),
			f.OTPStore(),
			f.DirectoryRepository(),
			f.hasher,
			f.smsClient,
			f.credentialClient,
			f.AuditRecorder(),
		)
	}
	return f.resetService
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes the required backends in parallel. Kafka and ClickHouse
// are audit sinks, not required for serving resets, so their failures are
// reported but never make the service unhealthy.
func (f *Factory) HealthCheck(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if f.redisClient == nil {
			return fmt.Errorf("redis client not initialized")
		}
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.scyllaClient == nil {
			return fmt.Errorf("scylla client not initialized")
		}
		if err := f.scyllaClient.HealthCheck(); err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.kafkaProducer == nil {
			return nil
		}
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			util.Warn("Kafka health check failed", util.ErrorField(err))
		}
		return nil
	})

	g.Go(func() error {
		if f.clickhouseClient == nil {
			return nil
		}
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			util.Warn("ClickHouse health check failed", util.ErrorField(err))
		}
		return nil
	})

	return g.Wait()
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}
