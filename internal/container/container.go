// Package container assembles the service from its options with samber/do.
// Every component that holds resources implements Shutdown() error and is
// released by injector.Shutdown in reverse order of creation.
package container

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/shortlink/internal/accounting"
	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/events"
	"github.com/serroba/shortlink/internal/handlers"
	"github.com/serroba/shortlink/internal/health"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/serroba/shortlink/internal/middleware"
	"github.com/serroba/shortlink/internal/ratelimit"
	"github.com/serroba/shortlink/internal/resolver"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/store"
	"github.com/serroba/shortlink/internal/store/migrations"
	"go.uber.org/zap"
)

const backendName = "backend"

// InstanceID distinguishes this process on the event bus.
type InstanceID string

// RedisClient owns the shared Redis connection pool.
type RedisClient struct {
	*redis.Client
}

func (c *RedisClient) Shutdown() error {
	return c.Close()
}

// Subscriber owns the event bus subscriber of this instance.
type Subscriber struct {
	message.Subscriber

	// release, when set, removes the instance's consumer group from the bus.
	release func(ctx context.Context) error
}

// Shutdown runs after the consumer group has closed the subscriber.
func (s *Subscriber) Shutdown() error {
	if s.release == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.release(ctx)
}

// LoggerPackage provides the process logger.
func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		return NewLogger(opts.LogFormat, opts.LogLevel)
	})
}

// NewLogger builds a production (json) or development (console) logger.
func NewLogger(format, level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Level = lvl

	return cfg.Build()
}

// RedisPackage provides the shared Redis client.
func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*RedisClient, error) {
		opts := do.MustInvoke[*Options](i)

		return &RedisClient{Client: redis.NewClient(&redis.Options{Addr: opts.RedisAddr})}, nil
	})
}

// MetricsPackage provides the Prometheus registry served on /metrics.
func MetricsPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		return reg, nil
	})
}

// RepositoryPackage provides the configured link store backend and the
// notifying decorator every writer goes through.
func RepositoryPackage(i *do.Injector) {
	do.ProvideNamed(i, backendName, func(i *do.Injector) (shortener.Repository, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		switch opts.Storage {
		case StoragePostgres:
			if err := migrations.Up(opts.DatabaseURL, logger); err != nil {
				return nil, err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			pool, err := pgxpool.New(ctx, opts.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("connect postgres: %w", err)
			}

			if err := pool.Ping(ctx); err != nil {
				pool.Close()

				return nil, fmt.Errorf("ping postgres: %w", err)
			}

			return store.NewPostgresStore(pool), nil
		case StorageRedis:
			return store.NewRedisStore(do.MustInvoke[*RedisClient](i).Client), nil
		default:
			return store.NewMemoryStore(), nil
		}
	})

	do.Provide(i, func(i *do.Injector) (*store.NotifyingStore, error) {
		backend := do.MustInvokeNamed[shortener.Repository](i, backendName)
		logger := do.MustInvoke[*zap.Logger](i)
		origin := do.MustInvoke[InstanceID](i)

		return store.NewNotifyingStore(backend,
			cache.Invalidator(do.MustInvoke[cache.Cache](i)),
			events.ChangePublisher(do.MustInvoke[messaging.Publish[events.LinkChangedEvent]](i), string(origin), logger),
		), nil
	})
}

// CachePackage provides the resolution cache, tiered over Redis when enabled.
func CachePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*cache.Metrics, error) {
		return cache.NewMetrics(do.MustInvoke[*prometheus.Registry](i)), nil
	})

	do.Provide(i, func(i *do.Injector) (*cache.Local, error) {
		opts := do.MustInvoke[*Options](i)

		return cache.NewLocal(cache.LocalConfig{
			TTL:        opts.CacheTTL,
			MaxEntries: opts.CacheMaxEntries,
			Shards:     opts.CacheShards,
		}, do.MustInvoke[*cache.Metrics](i)), nil
	})

	do.Provide(i, func(i *do.Injector) (cache.Cache, error) {
		opts := do.MustInvoke[*Options](i)
		local := do.MustInvoke[*cache.Local](i)

		if !opts.CacheRedis {
			return local, nil
		}

		remote := cache.NewRedis(
			do.MustInvoke[*RedisClient](i).Client,
			opts.CacheTTL,
			do.MustInvoke[*zap.Logger](i),
			do.MustInvoke[*cache.Metrics](i),
		)

		return cache.NewTiered(local, remote), nil
	})
}

// MessagingPackage provides the event bus: typed publishers, this instance's
// subscriber and the consumers that keep peer caches coherent.
func MessagingPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (InstanceID, error) {
		return InstanceID(uuid.NewString()), nil
	})

	// The in-memory bus is shared by publisher and subscriber.
	do.Provide(i, func(i *do.Injector) (*gochannel.GoChannel, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, messaging.NewZapLogger(logger)), nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		switch opts.EventBus {
		case EventBusRedis:
			pub, err := NewRedisPublisher(do.MustInvoke[*RedisClient](i).Client, opts.StreamMaxLen, logger)
			if err != nil {
				return nil, err
			}

			return messaging.NewPublisherGroup(pub), nil
		default:
			return messaging.NewPublisherGroup(do.MustInvoke[*gochannel.GoChannel](i)), nil
		}
	})

	do.Provide(i, func(i *do.Injector) (messaging.Publish[events.LinkChangedEvent], error) {
		if do.MustInvoke[*Options](i).EventBus == EventBusNone {
			return messaging.Discard[events.LinkChangedEvent](), nil
		}

		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewPublishFunc[events.LinkChangedEvent](group.Publisher(), events.TopicLinkChanged), nil
	})

	do.Provide(i, func(i *do.Injector) (messaging.Publish[events.ClicksFlushedEvent], error) {
		if do.MustInvoke[*Options](i).EventBus == EventBusNone {
			return messaging.Discard[events.ClicksFlushedEvent](), nil
		}

		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewPublishFunc[events.ClicksFlushedEvent](group.Publisher(), events.TopicClicksFlushed), nil
	})

	do.Provide(i, func(i *do.Injector) (*Subscriber, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if opts.EventBus != EventBusRedis {
			return &Subscriber{Subscriber: do.MustInvoke[*gochannel.GoChannel](i)}, nil
		}

		// Every instance needs every change, so each gets its own group.
		group := "resolver-" + string(do.MustInvoke[InstanceID](i))
		client := do.MustInvoke[*RedisClient](i).Client

		sub, err := NewRedisSubscriber(client, group, logger)
		if err != nil {
			return nil, err
		}

		return &Subscriber{
			Subscriber: sub,
			release: func(ctx context.Context) error {
				return DestroyConsumerGroup(ctx, client, events.TopicLinkChanged, group)
			},
		}, nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		sub := do.MustInvoke[*Subscriber](i)

		group := messaging.NewConsumerGroup(sub, logger)
		if opts.EventBus == EventBusNone {
			return group, nil
		}

		group.Add(messaging.NewConsumer(
			sub,
			events.TopicLinkChanged,
			events.InvalidateHandler(do.MustInvoke[cache.Cache](i), string(do.MustInvoke[InstanceID](i))),
			logger,
		))

		return group, nil
	})
}

// NewRedisPublisher creates a Redis stream publisher that trims every stream
// to about maxLen entries. Zero leaves streams unbounded.
func NewRedisPublisher(client *redis.Client, maxLen int64, logger *zap.Logger) (message.Publisher, error) {
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:        client,
		Marshaller:    redisstream.DefaultMarshallerUnmarshaller{},
		DefaultMaxlen: maxLen,
	}, messaging.NewZapLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create redis stream publisher: %w", err)
	}

	return pub, nil
}

// NewRedisSubscriber creates a Redis stream subscriber in consumer group.
// The subscriber closes its client on Close, so it runs on a pool of its own.
func NewRedisSubscriber(client *redis.Client, group string, logger *zap.Logger) (message.Subscriber, error) {
	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        redis.NewClient(client.Options()),
		Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      watermill.NewShortUUID(),
	}, messaging.NewZapLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create redis stream subscriber: %w", err)
	}

	return sub, nil
}

// DestroyConsumerGroup removes group from stream. A group that was never
// created is not an error.
func DestroyConsumerGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupDestroy(ctx, stream, group).Err()
	if err != nil && !isMissingStream(err) {
		return fmt.Errorf("destroy consumer group %s: %w", group, err)
	}

	return nil
}

func isMissingStream(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "no such key") || strings.Contains(msg, "requires the key to exist")
}

// AccountingPackage provides the click accountant.
func AccountingPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*accounting.Accountant, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		origin := do.MustInvoke[InstanceID](i)

		return accounting.New(
			do.MustInvoke[*store.NotifyingStore](i),
			accounting.Config{
				QueueSize:     opts.QueueSize,
				BatchSize:     opts.BatchSize,
				FlushInterval: opts.FlushInterval,
			},
			logger.Named("accounting"),
			accounting.NewMetrics(do.MustInvoke[*prometheus.Registry](i)),
			events.FlushPublisher(do.MustInvoke[messaging.Publish[events.ClicksFlushedEvent]](i), string(origin), logger),
		), nil
	})
}

// ResolverPackage provides the resolver service.
func ResolverPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*resolver.Service, error) {
		opts := do.MustInvoke[*Options](i)

		generate, err := shortener.NewCodeGenerator(opts.CodeLength)
		if err != nil {
			return nil, err
		}

		return resolver.New(
			do.MustInvoke[*store.NotifyingStore](i),
			do.MustInvoke[cache.Cache](i),
			do.MustInvoke[*accounting.Accountant](i),
			generate,
			resolver.Config{CacheTTL: opts.CacheTTL},
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// RateLimitPackage provides the request rate limiter.
func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (ratelimit.Store, error) {
		if do.MustInvoke[*Options](i).RateLimitStore == StorageRedis {
			return store.NewRateLimitRedisStore(do.MustInvoke[*RedisClient](i).Client), nil
		}

		return store.NewRateLimitMemoryStore(), nil
	})

	do.Provide(i, func(i *do.Injector) (*ratelimit.Limiter, error) {
		return ratelimit.NewLimiter(do.MustInvoke[ratelimit.Store](i), ratelimit.DefaultPolicy()), nil
	})
}

// HealthPackage provides the health handler over every configured dependency.
func HealthPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*health.Handler, error) {
		opts := do.MustInvoke[*Options](i)

		checkers := map[string]health.Checker{
			"store": do.MustInvoke[*store.NotifyingStore](i),
		}

		if opts.usesRedis() {
			checkers["redis"] = health.NewRedisChecker(do.MustInvoke[*RedisClient](i).Client)
		}

		return health.NewHandler(checkers), nil
	})
}

// HTTPPackage provides the router and the huma API with every route
// registered.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)

		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			do.MustInvoke[*prometheus.Registry](i),
			promhttp.HandlerOpts{},
		))

		api := humachi.New(router, huma.DefaultConfig("Short Link Service", "1.0.0"))
		api.UseMiddleware(
			middleware.RequestLogger(logger.Named("http")),
			middleware.RateLimit(api, do.MustInvoke[*ratelimit.Limiter](i), logger),
		)

		health.RegisterRoutes(api, do.MustInvoke[*health.Handler](i))
		handlers.RegisterRoutes(api, handlers.NewLinkHandler(
			do.MustInvoke[*resolver.Service](i),
			opts.PublicBaseURL(),
			logger,
		))

		return api, nil
	})
}

// Register provides every package the server needs.
func Register(i *do.Injector, opts *Options) {
	do.ProvideValue(i, opts)
	LoggerPackage(i)
	RedisPackage(i)
	MetricsPackage(i)
	MessagingPackage(i)
	CachePackage(i)
	RepositoryPackage(i)
	AccountingPackage(i)
	ResolverPackage(i)
	RateLimitPackage(i)
	HealthPackage(i)
	HTTPPackage(i)
}
