package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"AgentHive/internal/agent"
	"AgentHive/internal/config"
	"AgentHive/internal/directory"
	"AgentHive/internal/events"
	"AgentHive/internal/llm"
	"AgentHive/internal/llm/openai"
	"AgentHive/internal/memory"
	"AgentHive/internal/messenger"
	"AgentHive/internal/retrieval"
	"AgentHive/internal/run"
	"AgentHive/internal/storage/mysql"
	"AgentHive/internal/storage/redis"
	"AgentHive/internal/tools"
	"AgentHive/internal/tools/team"
	"AgentHive/internal/tools/wallet"
	"AgentHive/internal/web3/ethereum"
	"AgentHive/pkg/logger"
)

// recordStore 同时提供写入与相似度检索。
type recordStore interface {
	memory.Store
	memory.Searcher
}

// application 持有组装完成的全部组件。
type application struct {
	hive    *agent.Hive
	closers []io.Closer
}

func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// buildApplication 按依赖顺序组装组件并初始化根智能体。
func buildApplication(ctx context.Context, cfg *config.Config) (app *application, err error) {
	app = &application{}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()
	log := logger.Named("bootstrap")

	client, err := openai.NewClient(openai.Config{
		APIKey:         cfg.OpenAI.ResolveAPIKey(),
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Timeout:        cfg.OpenAI.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	var embedder llm.Embedder = client
	if cfg.Cache.Redis.Address != "" {
		cache, err := redis.NewEmbeddingCache(ctx, redis.Config{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			TTL:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
			Model:    client.EmbeddingModel(),
		}, client)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, cache)
		embedder = cache
		log.Info("向量缓存已启用", slog.String("address", cfg.Cache.Redis.Address))
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, store)

	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, publisher)

	archive := memory.NewArchive(store, embedder, memory.WithPublisher(publisher))
	retriever := retrieval.New(embedder, memory.MessageIndex(store), memory.ToolExecutionIndex(store), retrieval.Options{
		MessageThreshold: cfg.Retrieval.MessageThreshold,
		MessageLimit:     cfg.Retrieval.MessageLimit,
		ToolThreshold:    cfg.Retrieval.ToolThreshold,
		ToolLimit:        cfg.Retrieval.ToolLimit,
	})

	dir := directory.New()
	registry := tools.NewRegistry()
	dispatcher := tools.NewDispatcher(registry, client, archive)
	driver := run.NewDriver(client, dispatcher, retriever, archive, run.PollPolicy{
		Interval:    cfg.Run.PollInterval(),
		MaxInterval: cfg.Run.MaxPollInterval(),
		Multiplier:  cfg.Run.BackoffMultiplier,
		MaxAttempts: cfg.Run.MaxPollAttempts,
	})
	hive := agent.New(client, dir, registry, driver, archive,
		agent.WithModel(cfg.OpenAI.Model),
		agent.WithCEO(cfg.Agent.CEOName, cfg.Agent.CEOPrompt),
	)
	msgr := messenger.New(client, dir, driver, archive, messenger.WithMaxDepth(cfg.Agent.MaxMessageDepth))

	available := append(team.Tools(hive, dir), msgr.Tool())
	if cfg.Web3.Enabled() {
		w, err := ethereum.NewWallet(ctx, ethereum.Config{
			RPCURL:        cfg.Web3.RPCURL,
			Address:       cfg.Web3.WalletAddress,
			PrivateKeyHex: os.Getenv(cfg.Web3.PrivateKeyEnv),
		})
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, closeFunc(w.Close))
		available = append(available, wallet.Tools(w)...)
		log.Info("钱包已连接", slog.String("address", w.Address().Hex()))
	} else {
		log.Warn("未配置 web3.rpc_url，链上工具不可用")
	}
	if err := registry.Register(available...); err != nil {
		return nil, err
	}

	ceo, err := hive.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("组织已就绪",
		slog.String("ceo_id", ceo.ID),
		slog.String("tools", strings.Join(registry.Names(), ",")),
	)
	app.hive = hive
	return app, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (recordStore, error) {
	switch cfg.Driver {
	case "mysql":
		return mysql.NewStore(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
			ScanWindow:      cfg.ScanWindow,
		})
	default:
		return memory.NewMemoryStore(), nil
	}
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if cfg.Driver != "rabbitmq" {
		return events.Nop{}, nil
	}
	return events.NewRabbitMQPublisher(events.RabbitMQConfig{
		URL:      cfg.RabbitMQ.URL,
		Exchange: cfg.RabbitMQ.Exchange,
	})
}
