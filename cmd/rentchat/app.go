package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"rentchat/internal/app/commands"
	chatapp "rentchat/internal/app/handlers/chat"
	"rentchat/internal/app/middleware"
	appoutbox "rentchat/internal/app/outbox"
	"rentchat/internal/app/policies"
	"rentchat/internal/app/queries"
	appchat "rentchat/internal/app/services/chat"
	"rentchat/internal/infra/broker/kafka"
	natsbroker "rentchat/internal/infra/broker/nats"
	"rentchat/internal/infra/config"
	mongodb "rentchat/internal/infra/db/mongo"
	"rentchat/internal/infra/db/postgres"
	redisdb "rentchat/internal/infra/db/redis"
	ginserver "rentchat/internal/infra/http/gin"
	"rentchat/internal/infra/inbox"
	"rentchat/internal/infra/notify"
	"rentchat/internal/infra/obs"
	"rentchat/internal/infra/outbox"
	"rentchat/internal/infra/storage/memory"
	"rentchat/internal/infra/storage/scylla"
)

type chatStore interface {
	appchat.Store
	appchat.SchemaProvisioner
}

type backgroundWorker struct {
	name string
	run  func(ctx context.Context) error
}

type application struct {
	handlers ginserver.Handlers
	health   obs.HealthHandlers
	metrics  *obs.Metrics
	workers  []backgroundWorker
	closers  []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *application) addCheck(name string, check func(ctx context.Context) error) {
	if a.health.Checks == nil {
		a.health.Checks = map[string]func(ctx context.Context) error{}
	}
	a.health.Checks[name] = check
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{metrics: obs.NewMetrics()}
	ok := false
	defer func() {
		if !ok {
			app.close()
		}
	}()

	store, err := app.openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.addCheck("store", store.Ping)

	var mongoClient *mongodb.Client
	if cfg.UsesMongo() {
		mongoClient, err = mongodb.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		app.closers = append(app.closers, func() { _ = mongoClient.Close(context.Background()) })
		app.addCheck("mongo", mongoClient.Ping)
	}

	directory, err := openDirectory(cfg, mongoClient, logger)
	if err != nil {
		return nil, err
	}

	var rdb *goredis.Client
	if cfg.IdempotencyDriver == config.IdempotencyRedis {
		rdb, err = redisdb.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		app.addCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	idStore, err := openIdempotencyStore(ctx, cfg, mongoClient, rdb)
	if err != nil {
		return nil, err
	}

	eventBox, err := app.openEvents(ctx, cfg, mongoClient, logger)
	if err != nil {
		return nil, err
	}

	guard := &appchat.SchemaGuard{Provisioner: store, Logger: logger, Metrics: app.metrics}
	resolver := &appchat.Resolver{Store: store, Guard: guard, Logger: logger}
	dispatcher := &appchat.Dispatcher{
		Resolver:      resolver,
		Store:         store,
		Guard:         guard,
		Directory:     directory,
		Notifier:      newNotifier(cfg, logger),
		Outbox:        eventBox,
		Encoder:       appoutbox.JSONEventEncoder{},
		Logger:        logger,
		Metrics:       app.metrics,
		NotifyTimeout: cfg.NotifyTimeout,
	}
	reconciler := &appchat.Reconciler{Store: store, Guard: guard, Directory: directory, Logger: logger, Metrics: app.metrics}

	commandBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	chatapp.Register(commandBus, queryBus, chatapp.Deps{
		Dispatcher: dispatcher,
		Reconciler: reconciler,
		Store:      store,
		Guard:      guard,
		Logger:     logger,
	})
	commandsWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger),
		middleware.Validation(middleware.SelfValidator{}),
		middleware.Idempotency(idStore, nil, cfg.IdempotencyTTL),
		middleware.OutboxFlush(eventBox, logger),
	)
	queriesWithMiddleware := middleware.ChainQueries(
		queryBus,
		middleware.QueryLogging(logger),
		middleware.QueryValidation(middleware.SelfValidator{}),
	)

	if cfg.EventBroker == config.BrokerKafka {
		if err := app.startListingConsumer(ctx, cfg, mongoClient, commandsWithMiddleware, logger); err != nil {
			return nil, err
		}
	}

	app.handlers = ginserver.Handlers{
		Chat: ginserver.ChatHandler{
			Commands: commandsWithMiddleware,
			Queries:  queriesWithMiddleware,
			Logger:   logger,
		},
		SendLimiter: sendLimiter(cfg, rdb),
		Metrics:     app.metrics.Handler(),
	}
	ok = true
	return app, nil
}

func (a *application) openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (chatStore, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return postgres.NewStore(pool, postgres.WithSchema(cfg.DatabaseSchema))
	case config.StoreScylla:
		session, err := scylla.NewSession(scylla.SessionOptions{
			Hosts:       cfg.ScyllaHosts,
			Username:    cfg.ScyllaUsername,
			Password:    cfg.ScyllaPassword,
			Consistency: cfg.Consistency(),
			Timeout:     cfg.ScyllaTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, session.Close)
		return scylla.NewStore(session, cfg.ScyllaKeyspace, cfg.ScyllaReplicationFactor, logger)
	default:
		logger.Warn("using in-memory chat store, data is lost on restart")
		return memory.NewChatStore(), nil
	}
}

func openDirectory(cfg config.Config, client *mongodb.Client, logger *slog.Logger) (appchat.Directory, error) {
	if cfg.DirectoryDriver == config.DirectoryMongo {
		return mongodb.NewDirectory(client.DB), nil
	}
	dir := memory.NewDirectory()
	loaded, err := dir.LoadFixtures(cfg.FixturesPath)
	if err != nil {
		return nil, fmt.Errorf("load directory fixtures: %w", err)
	}
	logger.Info("directory fixtures loaded", "path", cfg.FixturesPath, "entries", loaded)
	return dir, nil
}

func openIdempotencyStore(ctx context.Context, cfg config.Config, client *mongodb.Client, rdb *goredis.Client) (middleware.IdempotencyStore, error) {
	switch cfg.IdempotencyDriver {
	case config.IdempotencyMongo:
		return mongodb.NewIdempotencyStore(ctx, client.DB)
	case config.IdempotencyRedis:
		return redisdb.NewIdempotencyStore(rdb), nil
	default:
		return memory.NewIdempotencyStore(), nil
	}
}

// openEvents returns the outbox the send path records into. With a broker the
// events go to Mongo and a worker relays them; without one they are logged.
func (a *application) openEvents(ctx context.Context, cfg config.Config, client *mongodb.Client, logger *slog.Logger) (appoutbox.Outbox, error) {
	var producer outbox.Producer
	switch cfg.EventBroker {
	case config.BrokerKafka:
		p, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		a.closers = append(a.closers, func() { _ = p.Close() })
		producer = p
	case config.BrokerNATS:
		p, err := natsbroker.Connect(cfg.NATSURL, "rentchat", logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.addCheck("nats", func(context.Context) error { return p.Ping() })
		producer = p
	default:
		box := memory.NewOutbox()
		box.Sink = func(_ context.Context, records []appoutbox.EventRecord) {
			for _, rec := range records {
				logger.Debug("chat event", "name", rec.Name, "aggregate", rec.Aggregate, "event_id", rec.ID)
			}
		}
		return box, nil
	}

	store, err := outbox.NewStore(ctx, client.DB)
	if err != nil {
		return nil, fmt.Errorf("outbox store: %w", err)
	}
	worker := &outbox.Worker{
		Queue:       store,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Source:      "app://rentchat",
		Backoff:     cfg.RetryBackoff,
		Logger:      logger,
		Metrics:     a.metrics,
	}
	a.workers = append(a.workers, backgroundWorker{name: "outbox", run: worker.Run})
	return store, nil
}

func (a *application) startListingConsumer(ctx context.Context, cfg config.Config, client *mongodb.Client, bus commands.Bus, logger *slog.Logger) error {
	dedupe, err := inbox.NewStore(ctx, client.DB, cfg.KafkaConsumerGroup)
	if err != nil {
		return fmt.Errorf("inbox store: %w", err)
	}
	handler := &kafka.ListingEventsHandler{Commands: bus, Inbox: dedupe, Logger: logger}
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, sarama.NewConfig(), handler, logger)
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	a.closers = append(a.closers, func() { _ = consumer.Close() })
	a.workers = append(a.workers, backgroundWorker{name: "listing-events", run: func(ctx context.Context) error {
		return consumer.Run(ctx, []string{cfg.ListingEventsTopic})
	}})
	return nil
}

func newNotifier(cfg config.Config, logger *slog.Logger) policies.Notifier {
	if cfg.MailgunDomain != "" {
		return notify.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailFrom)
	}
	return notify.Log{Logger: logger}
}

func sendLimiter(cfg config.Config, rdb *goredis.Client) gin.HandlerFunc {
	if cfg.SendRateLimit == 0 {
		return nil
	}
	window := cfg.SendRateWindow
	if window <= 0 {
		window = time.Second
	}
	var store ratelimit.Store
	if rdb != nil {
		store = ratelimit.RedisStore(&ratelimit.RedisOptions{RedisClient: rdb, Rate: window, Limit: cfg.SendRateLimit})
	} else {
		store = ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{Rate: window, Limit: cfg.SendRateLimit})
	}
	return ginserver.SendRateLimiter(store)
}
