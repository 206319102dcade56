package bootstrap

import (
	"context"
	"fmt"

	"github.com/Domenick1991/bookingcore/api"
	"github.com/Domenick1991/bookingcore/config"
	"github.com/Domenick1991/bookingcore/internal/cache"
	"github.com/Domenick1991/bookingcore/internal/kafka"
	"github.com/Domenick1991/bookingcore/internal/orders"
	"github.com/Domenick1991/bookingcore/internal/payments"
	"github.com/Domenick1991/bookingcore/internal/recordstore"
	"github.com/Domenick1991/bookingcore/internal/repository"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"github.com/Domenick1991/bookingcore/internal/service/offers"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Components is everything a process needs, built once from config.
type Components struct {
	Matcher  *booking.BookingMatcher
	Offers   *offers.OfferService
	Profiles *recordstore.Store
	Checks   map[string]HealthCheck

	closers []func()
}

func (c *Components) Services() api.Services {
	return api.Services{Matcher: c.Matcher, Offers: c.Offers, Profiles: c.Profiles}
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Components, error) {
	c := &Components{Checks: map[string]HealthCheck{}}

	var pool *pgxpool.Pool
	if cfg.Storage == config.StoragePostgres || cfg.Records.Backend == config.RecordsPostgres {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("parse postgres config: %w", err)
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		c.Checks["postgres"] = pool.Ping
	}

	var redisClient *redis.Client
	var offerCache offers.OfferCache
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		c.closers = append(c.closers, func() { _ = redisClient.Close() })
		redisCache := cache.NewRedisCacheWithClient(redisClient)
		c.Checks["redis"] = redisCache.Ping
		offerCache = redisCache
	}

	exec := recordstore.NewExecutor(recordstore.RetryConfig{
		MaxRetries: cfg.Records.MaxRetries,
		BaseDelay:  cfg.Records.BaseDelay,
		MaxDelay:   cfg.Records.MaxDelay,
	}, logger)

	var backend recordstore.Backend
	switch cfg.Records.Backend {
	case config.RecordsPostgres:
		backend = recordstore.NewPostgresBackend(pool)
	case config.RecordsRedis:
		if redisClient == nil {
			c.Close()
			return nil, fmt.Errorf("records.backend %q needs redis.addr", cfg.Records.Backend)
		}
		backend = recordstore.NewRedisBackend(redisClient, cfg.Records.KeyPrefix)
	default:
		backend = recordstore.NewMemoryBackend()
	}
	c.Profiles = recordstore.NewStore(backend, exec, cfg.Records.MaxConditionalRetries, logger)

	var repo repository.BookingRequestRepository
	if cfg.Storage == config.StoragePostgres {
		repo = repository.NewBookingRequestRepository(pool)
	} else {
		repo = repository.NewMemoryRepository()
	}

	orderClient := orders.NewClient(orders.Config{
		BaseURL:                 cfg.Orders.BaseURL,
		Token:                   cfg.Orders.Token,
		APIVersion:              cfg.Orders.APIVersion,
		Timeout:                 cfg.Orders.Timeout,
		MaxRetries:              cfg.Orders.MaxRetries,
		BaseBackoff:             cfg.Orders.BaseBackoff,
		MaxBackoff:              cfg.Orders.MaxBackoff,
		MaxRetryAfter:           cfg.Orders.MaxRetryAfter,
		BreakerFailureThreshold: cfg.Orders.BreakerFailureThreshold,
		BreakerCooldown:         cfg.Orders.BreakerCooldown,
		BreakerHalfOpenRequests: cfg.Orders.BreakerHalfOpenRequests,
	}, logger)

	c.Offers = offers.NewOfferService(orderClient, offerCache, cfg.Offers.CacheTTL, logger)

	opts := []booking.MatcherOption{booking.WithExecutor(exec)}
	if cfg.Orders.LiveBooking {
		opts = append(opts, booking.WithOrderClient(orderClient))
	}
	if cfg.Payments.StripeKey != "" {
		opts = append(opts, booking.WithPayments(payments.NewStripeGateway(cfg.Payments.StripeKey, logger)))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
		c.closers = append(c.closers, func() { _ = producer.Close() })
		c.Checks["kafka"] = producer.CheckConnection
		opts = append(opts, booking.WithProducer(producer, cfg.Kafka.BookingEventsTopic))
	}
	c.Matcher = booking.NewBookingMatcher(repo, logger, booking.Config{
		ProcessTimeout: cfg.Matcher.ProcessTimeout,
	}, opts...)

	return c, nil
}
