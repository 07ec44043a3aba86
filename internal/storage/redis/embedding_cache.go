package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"AgentHive/internal/llm"
	"AgentHive/pkg/logger"
)

const keyPrefix = "agenthive:embedding:"

// Config 描述 Redis 连接参数与缓存策略。
type Config struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
	// Model 参与缓存 key 的计算，切换向量模型后旧缓存自然失效。
	Model string
}

// EmbeddingCache 是带 Redis 缓存的 llm.Embedder 装饰器。
type EmbeddingCache struct {
	client *goredis.Client
	next   llm.Embedder
	ttl    time.Duration
	model  string
	logger *slog.Logger
}

var _ llm.Embedder = (*EmbeddingCache)(nil)

// NewEmbeddingCache 连接 Redis 并包装下游 Embedder。
func NewEmbeddingCache(ctx context.Context, cfg Config, next llm.Embedder) (*EmbeddingCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newEmbeddingCache(client, cfg, next), nil
}

func newEmbeddingCache(client *goredis.Client, cfg Config, next llm.Embedder) *EmbeddingCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	model := cfg.Model
	if model == "" {
		model = "default"
	}
	return &EmbeddingCache{
		client: client,
		next:   next,
		ttl:    ttl,
		model:  model,
		logger: logger.Named("embedding_cache"),
	}
}

// Embed 先查缓存，未命中时调用下游并回写。缓存读写失败只记录日志。
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float64, error) {
	key := c.key(text)

	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vector []float64
		if decodeErr := json.Unmarshal(cached, &vector); decodeErr == nil && len(vector) > 0 {
			return vector, nil
		}
		c.logger.Warn("缓存内容无法解析，忽略", slog.String("key", key))
	case errors.Is(err, goredis.Nil):
	default:
		c.logger.Warn("读取向量缓存失败", slog.String("key", key), slog.Any("error", err))
	}

	vector, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(vector)
	if err == nil {
		err = c.client.Set(ctx, key, encoded, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn("写入向量缓存失败", slog.String("key", key), slog.Any("error", err))
	}
	return vector, nil
}

// Close 关闭 Redis 连接。
func (c *EmbeddingCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *EmbeddingCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + c.model + ":" + hex.EncodeToString(sum[:])
}
