package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"keyless-recovery/internal/audit"
	"keyless-recovery/internal/bucketing"
	"keyless-recovery/internal/client"
	"keyless-recovery/internal/config"
	"keyless-recovery/internal/encryption"
	"keyless-recovery/internal/events"
	"keyless-recovery/internal/repository/memory"
	redisrepo "keyless-recovery/internal/repository/redis"
	"keyless-recovery/internal/repository/scylla"
	"keyless-recovery/internal/service"
	"keyless-recovery/internal/sms"
	"keyless-recovery/internal/tls"
	"keyless-recovery/internal/token"
	"keyless-recovery/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	kmsClient        encryption.KMSAPI

	// Managers
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	signer            *token.Signer
	smsSender         sms.Sender
	publisher         events.Publisher
	auditor           audit.Recorder

	repositories   *service.Repositories
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
	janitorWG sync.WaitGroup
}

// NewFactory validates cfg and builds every dependency it selects.
func NewFactory(cfg *config.Config) (*Factory, error) {
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(tls.ConfigFromServer(cfg))
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store", cfg.Store.Backend),
		util.Bool("redis_lock", factory.redisClient != nil),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", factory.kmsClient != nil),
	)

	return factory, nil
}

// initializeClients connects the enabled backends. Optional analytics and
// messaging backends degrade to no-ops outside production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if f.config.Store.Backend == config.StoreScylla {
		c, err := scylla.NewScyllaClient(f.config, util.Get())
		if err != nil {
			// the record store is never optional
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c
		util.Info("ScyllaDB client initialized and healthy")
	}

	if f.config.Redis.Enabled {
		if c, err := client.NewRedisClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			f.redisClient = c
			util.Info("Redis client initialized and healthy")
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
		}
	}

	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
		}
	}

	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("kms: %w", err))
		} else {
			f.kmsClient = kms.NewFromConfig(awsCfg)
			util.Info("KMS client initialized", util.String("region", f.config.KMS.Region))
		}
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

// initializeManagers builds encryption, bucketing, signing, SMS, events and audit.
func (f *Factory) initializeManagers() error {
	f.encryptionManager = encryption.NewEncryptionManager(f.config, f.kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	signer, err := token.NewSigner(f.config.JWT)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}
	f.signer = signer

	sender, err := sms.NewSender(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	f.smsSender = sender

	if f.kafkaProducer != nil {
		f.publisher = events.NewKafkaPublisher(f.kafkaProducer, util.Get())
	} else {
		f.publisher = events.NoopPublisher{}
	}

	f.auditor = f.buildAuditor()

	util.Info("Managers initialized successfully",
		util.Int("event_buckets", f.bucketingManager.GetEventBuckets()),
		util.Int("lock_stripes", f.bucketingManager.GetLockStripes()),
		util.String("sms_provider", f.config.SMS.Provider),
		util.Bool("events_enabled", f.kafkaProducer != nil),
	)
	return nil
}

func (f *Factory) buildAuditor() audit.Recorder {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var sinks []audit.Sink
	if f.clickhouseClient != nil {
		sink := audit.NewClickHouseSink(f.clickhouseClient)
		if err := sink.EnsureTable(ctx); err != nil {
			util.Warn("ClickHouse audit sink disabled", util.ErrorField(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	if f.esClient != nil {
		sink := audit.NewElasticsearchSink(f.esClient, f.config.Elasticsearch.Index)
		if err := sink.EnsureIndex(ctx); err != nil {
			util.Warn("Elasticsearch audit sink disabled", util.ErrorField(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		return audit.NoopRecorder{}
	}
	return audit.NewAuditor(f.bucketingManager, util.Get(), sinks...)
}

// ==============================
// Repositories
// ==============================

// Repositories returns the Scylla or in-memory stores, with a Redis phone
// lock when Redis is available.
func (f *Factory) Repositories() service.Repositories {
	if f.repositories != nil {
		return *f.repositories
	}

	var repos service.Repositories
	if f.scyllaClient != nil {
		repos = service.Repositories{
			OTPs:     scylla.NewOTPRepository(f.scyllaClient),
			Backups:  scylla.NewBackupRepository(f.scyllaClient),
			Sessions: scylla.NewSessionRepository(f.scyllaClient),
			Ledger:   scylla.NewKeyshareLedger(f.scyllaClient, f.encryptionManager),
		}
	} else {
		store := memory.NewStore(f.bucketingManager)
		repos = service.Repositories{
			OTPs:     store.OTPs,
			Backups:  store.Backups,
			Sessions: store.Sessions,
			Ledger:   store.Ledger,
			Locker:   store.Locker,
		}
	}

	if f.redisClient != nil {
		repos.Locker = redisrepo.NewPhoneLock(f.redisClient, f.config.Redis.LockTTL)
	} else if repos.Locker == nil {
		// single-instance fallback
		repos.Locker = memory.NewStripedLocker(f.bucketingManager)
		util.Warn("Redis unavailable, phone locks are process-local")
	}

	f.repositories = &repos
	return repos
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.config.OTP,
			f.Repositories(),
			f.signer,
			f.smsSender,
			f.publisher,
			f.auditor,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// StartJanitor deletes codes past the retention window every cleanup
// interval until the factory is closed. A zero retention disables it.
func (f *Factory) StartJanitor() {
	retention, interval := f.config.OTP.Retention, f.config.OTP.CleanupInterval
	if retention <= 0 || interval <= 0 {
		util.Info("Expired OTP cleanup disabled")
		return
	}

	otps := f.ServiceFactory().OTPService()
	f.janitorWG.Add(1)
	go func() {
		defer f.janitorWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-f.closed:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if _, err := otps.CleanupExpired(ctx, retention); err != nil {
					util.Error("Expired OTP cleanup failed", util.ErrorField(err))
				}
				cancel()
			}
		}
	}()

	util.Info("Expired OTP cleanup started",
		util.Duration("retention", retention),
		util.Duration("interval", interval))
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else if f.config.Store.Backend == config.StoreScylla {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else if f.config.Redis.Enabled {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		f.janitorWG.Wait()

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			util.Info("Service factory cleaned up")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
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

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
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

func (f *Factory) Signer() *token.Signer {
	return f.signer
}

func (f *Factory) Auditor() audit.Recorder {
	return f.auditor
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
