package container

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/infrastructure/config"
	pgrepo "pricealert/internal/infrastructure/storage/postgres"
	redisrepo "pricealert/internal/infrastructure/storage/redis"
	sqliterepo "pricealert/internal/infrastructure/storage/sqlite"
	"pricealert/internal/infrastructure/telegram"
	"pricealert/internal/interfaces/console"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Container 包含所有基础设施依赖：alert 存储、Redis、消息发送
type Container struct {
	cfg         *config.Config
	repo        port.AlertRepository
	redisClient *redis.Client
	redisRepo   *redisrepo.Repo
	sender      port.Sender
	closeOnce   sync.Once
	closerChain []func() error
}

// New 创建新的容器实例
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	if err := c.initStorage(); err != nil {
		// 清理已初始化的资源
		_ = c.Close()
		return nil, err
	}
	if cfg.Redis.Enabled {
		if err := c.initRedis(); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
	}
	if err := c.initSender(); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// initStorage 按 storage.driver 打开 alert 存储
func (c *Container) initStorage() error {
	switch c.cfg.Storage.Driver {
	case "postgres":
		repo, err := pgrepo.New(c.cfg.Storage.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		c.setRepo(repo, "postgres")
		log.Info().Msg("postgres initialized")
	default:
		repo, err := sqliterepo.New(c.cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		c.setRepo(repo, "sqlite")
		log.Info().Str("path", c.cfg.Storage.SQLite.Path).Msg("sqlite initialized")
	}
	return nil
}

func (c *Container) setRepo(repo port.AlertRepository, name string) {
	c.repo = repo
	// 注册关闭回调
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msgf("closing %s connection", name)
		return repo.Close()
	})
}

// initRedis 初始化 Redis 连接
func (c *Container) initRedis() error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.redisRepo = redisrepo.New(rdb, redisrepo.Options{
		Prefix:         c.cfg.Redis.Prefix,
		TTL:            time.Duration(c.cfg.Redis.TTLSeconds) * time.Second,
		TriggerStream:  c.cfg.Redis.TriggerStream,
		TriggerChannel: c.cfg.Redis.TriggerChannel,
		FlushEvery:     time.Duration(c.cfg.Redis.FlushMs) * time.Millisecond,
	})

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", c.cfg.Redis.Addr).
		Int("db", c.cfg.Redis.DB).
		Msg("redis initialized")

	return nil
}

// initSender Telegram 未启用时使用控制台 dry-run
func (c *Container) initSender() error {
	if !c.cfg.Telegram.Enabled {
		c.sender = console.NewSender(os.Stdout)
		log.Warn().Msg("telegram disabled, notifications printed to console")
		return nil
	}
	api, err := telegram.NewAPI(c.cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	c.sender = telegram.NewSender(api)
	log.Info().Str("bot", api.Self.UserName).Msg("telegram initialized")
	return nil
}

// Config 获取配置
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Repository alert 存储
func (c *Container) Repository() port.AlertRepository {
	return c.repo
}

// RedisClient 获取 Redis 客户端（未启用时为 nil）
func (c *Container) RedisClient() *redis.Client {
	return c.redisClient
}

// RedisRepo 获取 Redis 仓储（未启用时为 nil）
func (c *Container) RedisRepo() *redisrepo.Repo {
	return c.redisRepo
}

// Sender 消息发送
func (c *Container) Sender() port.Sender {
	return c.sender
}

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
