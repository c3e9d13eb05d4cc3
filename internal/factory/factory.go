// Package factory wires the application together and manages the
// lifecycle of every external dependency.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"shop-auth/internal/bucketing"
	"shop-auth/internal/client"
	"shop-auth/internal/config"
	"shop-auth/internal/encryption"
	"shop-auth/internal/events"
	"shop-auth/internal/handler"
	"shop-auth/internal/hashing"
	"shop-auth/internal/otp"
	redisrepo "shop-auth/internal/repository/redis"
	"shop-auth/internal/repository/scylla"
	"shop-auth/internal/service"
	"shop-auth/internal/sms"
	"shop-auth/internal/token"
	"shop-auth/internal/util"
)

// Factory builds and owns every application dependency.
type Factory struct {
	config *config.Config

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	userRepository scylla.UserRepository
	otpService     *otp.Service
	tokenManager   *token.Manager
	dispatcher     *sms.Dispatcher
	publisher      *events.Publisher
	authService    *service.AuthService
	authHandler    *handler.AuthHandler

	closeOnce sync.Once
}

// NewFactory loads configuration and initializes every dependency. In
// development mode the Redis and Scylla backends can be swapped for
// in-process stores with CACHE_IN_MEMORY.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{config: cfg}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	f.initializeManagers()
	if err := f.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	util.Info("factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("in_memory_backend", cfg.Redis.Memory),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)
	return f, nil
}

func (f *Factory) initializeClients() error {
	if f.config.Redis.Memory {
		util.Warn("running on in-process stores, state will not survive a restart")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		}
	}

	scyllaClient, err := scylla.NewScyllaClient(f.config)
	if err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
	}

	// Event sinks are best effort even in production.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("kafka producer unavailable, proceeding without it", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("clickhouse unavailable, proceeding without audit sink", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("service initialization warning", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Error("failed to load AWS config, phone encryption falls back to local key",
				util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}
	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
}

func (f *Factory) initializeServices() error {
	var (
		store     otp.Store
		counters  otp.Counters
		blacklist token.Blacklist
	)

	if f.config.Redis.Memory {
		store = otp.NewMemoryStore(nil)
		counters = otp.NewMemoryCounters(nil)
		blacklist = token.NewMemoryBlacklist(nil)
		f.userRepository = scylla.NewMemoryUserRepository()
	} else {
		if f.redisClient == nil || f.scyllaClient == nil {
			return fmt.Errorf("redis and scylla are required unless CACHE_IN_MEMORY is set")
		}
		store = redisrepo.NewVerificationStore(f.redisClient, nil)
		counters = redisrepo.NewCounterStore(f.redisClient)
		blacklist = redisrepo.NewTokenBlacklist(f.redisClient)
		f.userRepository = scylla.NewUserRepository(f.scyllaClient)
	}

	limiter := otp.NewLimiter(counters, otp.LimiterConfig{
		HourlyPhoneLimit: int64(f.config.RateLimit.PhonePerHour),
		DailyPhoneLimit:  int64(f.config.RateLimit.PhonePerDay),
		HourlyIPLimit:    int64(f.config.RateLimit.IPPerHour),
	}, nil)

	f.otpService = otp.NewService(store, limiter, otp.ServiceConfig{
		CodeLength:  f.config.OTP.CodeLength,
		VerifyTTL:   f.config.OTP.VerifyTTL,
		ResetTTL:    f.config.OTP.ResetTTL,
		MaxAttempts: f.config.OTP.MaxAttempts,
	}, nil)

	f.tokenManager = token.NewManager(token.ManagerConfig{
		Secret:     f.config.JWT.Secret,
		AccessTTL:  f.config.JWT.AccessTTL,
		RefreshTTL: f.config.JWT.RefreshTTL,
		Issuer:     f.config.JWT.Issuer,
	}, blacklist, nil)

	var channel sms.Channel
	if f.config.SMS.Email != "" && f.config.SMS.Password != "" {
		channel = sms.NewGatewayChannel(
			f.config.SMS.GatewayURL,
			f.config.SMS.Email,
			f.config.SMS.Password,
			f.config.SMS.Sender,
		)
	} else {
		util.Warn("no SMS gateway credentials, codes are written to the log")
		channel = sms.LogChannel{}
	}
	f.dispatcher = sms.NewDispatcher(channel, sms.DispatcherConfig{
		MaxAttempts: f.config.SMS.MaxAttempts,
		Backoff:     f.config.SMS.Backoff,
		QueueSize:   f.config.SMS.QueueSize,
		Workers:     f.config.SMS.Workers,
	})

	f.publisher = events.NewPublisher(f.kafkaProducer, f.clickhouseClient)

	f.authService = service.NewAuthService(
		f.otpService,
		f.dispatcher,
		f.userRepository,
		f.hasher,
		f.encryptionManager,
		f.bucketingManager,
		f.tokenManager,
		f.publisher,
	)
	f.authHandler = handler.NewAuthHandler(f.authService)
	return nil
}

func (f *Factory) Config() *config.Config { return f.config }

func (f *Factory) AuthHandler() *handler.AuthHandler { return f.authHandler }

func (f *Factory) AuthService() *service.AuthService { return f.authService }

// HealthCheck pings every connected backend.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	return healthErrors
}

// Close shuts everything down, draining the SMS queue first.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.dispatcher != nil {
			f.dispatcher.Close()
		}
		if f.publisher != nil {
			f.publisher.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Warn("failed to close redis client", util.ErrorField(err))
			}
		}
		util.Info("factory closed")
	})
}
