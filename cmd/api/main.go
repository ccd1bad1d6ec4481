package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/tavern-chat/backend/internal/config"
	"github.com/zhouzirui/tavern-chat/backend/internal/handler"
	"github.com/zhouzirui/tavern-chat/backend/internal/logging"
	"github.com/zhouzirui/tavern-chat/backend/internal/metrics"
	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/model/persona"
	"github.com/zhouzirui/tavern-chat/backend/internal/realtime"
	"github.com/zhouzirui/tavern-chat/backend/internal/relay"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/ai"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/bot"
	chatService "github.com/zhouzirui/tavern-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/media"
	"github.com/zhouzirui/tavern-chat/backend/internal/service/stats"
	"github.com/zhouzirui/tavern-chat/backend/internal/store"
	"github.com/zhouzirui/tavern-chat/backend/internal/store/memory"
	"github.com/zhouzirui/tavern-chat/backend/internal/store/mongo"
)

var log = logrus.WithField("component", "main")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.WithError(err).Warn("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := logging.Init(cfg.Log); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	personas := persona.NewMemoryStore(persona.Seed())
	botPersona := personas.Default(cfg.Bot.PersonaID)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions := realtime.NewRegistry()
	presence := realtime.NewPresence()
	broadcaster := realtime.NewBroadcaster(sessions, presence, m)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Relay.RedisURL != "" {
		redisRelay, err := relay.NewRedis(ctx, cfg.Relay)
		if err != nil {
			return err
		}
		defer redisRelay.Close()
		broadcaster.SetRelay(gctx, redisRelay)
		g.Go(func() error {
			return redisRelay.Run(gctx, broadcaster.DeliverRemote)
		})
		log.WithField("instance_id", redisRelay.InstanceID()).Info("redis relay enabled")
	}

	chatSvc := chatService.NewService(st, st, st, broadcaster)
	aggregator := stats.NewAggregator(stats.Options{
		Location: cfg.Stats.Location,
		Capacity: cfg.Stats.LogCapacity,
	})

	var botQueue *bot.Engine
	if cfg.AI.Enabled() {
		botQueue, err = newBotEngine(ctx, cfg, botPersona, st, chatSvc, aggregator, m)
		if err != nil {
			log.WithError(err).Warn("continuing without bot replies - 请检查 Ark 模型相关环境变量")
		} else {
			defer botQueue.Stop()
			log.WithFields(logrus.Fields{"bot_user_id": cfg.Bot.UserID, "persona": botPersona.ID}).Info("bot pipeline enabled")
		}
	} else {
		log.Info("Ark 凭证未配置，跳过机器人回复")
	}

	deps := handler.Deps{
		Personas:        personas,
		ActivePersonaID: botPersona.ID,
		Chat:            chatSvc,
		BotUserID:       cfg.Bot.UserID,
		Registry:        sessions,
		Presence:        presence,
		Broadcaster:     broadcaster,
		Users:           st,
		Stats:           aggregator,
		Metrics:         m,
		Gatherer:        registry,
	}
	// Keep Bot a nil interface when the engine is absent.
	if botQueue != nil {
		deps.Bot = botQueue
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("Tavern chat backend listening")
		return runServer(gctx, srv, cfg.Server.ShutdownTimeout)
	})

	return g.Wait()
}

func newBotEngine(ctx context.Context, cfg *config.Config, p persona.Persona, st store.Store, chatSvc *chatService.Service, usage *stats.Aggregator, m *metrics.Metrics) (*bot.Engine, error) {
	client, err := ai.NewClientFromConfig(ctx, cfg.AI, m)
	if err != nil {
		return nil, err
	}

	pipeline := bot.NewPipeline(bot.PipelineConfig{
		BotUserID:       cfg.Bot.UserID,
		Persona:         p,
		ContextWindow:   cfg.Bot.ContextWindow,
		TypingPulse:     cfg.Bot.TypingPulse,
		FallbackEnabled: cfg.Bot.FallbackEnabled,
	}, bot.Deps{
		Messages:  st,
		Chats:     st,
		Users:     st,
		Generator: client,
		Media:     media.NewClient(cfg.Media),
		Sender:    chatSvc,
		Usage:     usage,
		Metrics:   m,
	})

	policy := bot.DefaultDebouncePolicy()
	policy.ShortContentWait = cfg.Bot.ShortWait
	policy.DefaultWait = cfg.Bot.DefaultWait
	policy.LongContentWait = cfg.Bot.LongWait

	return bot.NewEngine(policy, pipeline.Handle, m), nil
}

// openStore connects to MongoDB when configured and otherwise falls back to
// a seeded in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	botUser := chat.User{ID: cfg.Bot.UserID, Name: cfg.Bot.Name}

	if cfg.Storage.MongoURI == "" {
		mem := memory.New()
		mem.PutUser(botUser)
		mem.PutUser(chat.User{ID: "guest", Name: "Guest"})
		lobby, err := mem.CreateChat(ctx, "Tavern", []string{"guest", botUser.ID})
		if err != nil {
			return nil, nil, err
		}
		log.WithField("chat_id", lobby.ID).Info("using in-memory store with demo chat")
		return mem, func() {}, nil
	}

	mongoStore, err := mongo.Connect(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	if err := mongoStore.PutUser(ctx, botUser); err != nil {
		return nil, nil, err
	}
	log.WithField("database", cfg.Storage.MongoDatabase).Info("using MongoDB store")

	closeFn := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoStore.Close(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to disconnect MongoDB")
		}
	}
	return mongoStore, closeFn, nil
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
