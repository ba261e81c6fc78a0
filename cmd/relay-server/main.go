package main

import (
	"context"
	"errors"
	"time"

	"relay-core/internal/chain"
	"relay-core/internal/event"
	"relay-core/internal/guard"
	"relay-core/internal/handler"
	"relay-core/internal/model"
	"relay-core/internal/purse"
	"relay-core/internal/relay"
	"relay-core/internal/repository"
	"relay-core/internal/server"
	"relay-core/internal/service"
	"relay-core/internal/service/mq"
	"relay-core/internal/worker"

	"relay-core/pkg/config"
	"relay-core/pkg/database"
	"relay-core/pkg/keystore"
	"relay-core/pkg/logger"
	"relay-core/pkg/utils/lock"
	"relay-core/pkg/validator"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "relay-core/docs/swagger"
)

// @title Relay Core API
// @version 1.0
// @description Meta-transaction relay server API

// @host localhost:8080
// @BasePath /
func main() {
	// 0. 初始化 Config
	config.Init()
	cfg := config.Global

	// 初始化 Validator
	validator.Init()

	// 1. 初始化 Logger
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 加载助记词: 优先 keystore，回退到明文配置 (仅限开发环境)
	mnemonic, fromFile, err := keystore.ResolveMnemonic(cfg.Purse.KeystorePath, cfg.Purse.Password, cfg.Purse.Mnemonic)
	if err != nil {
		logger.Fatal("加载助记词失败，请先运行 'relayer-cli init'", zap.Error(err))
	}
	if fromFile {
		logger.Info("✅ 成功从 Keystore 加载并解密助记词", zap.String("path", cfg.Purse.KeystorePath))
	} else {
		logger.Warn("⚠️  使用配置文件中的明文助记词 (仅限开发环境使用)")
	}

	// 3. 连接节点
	gw, err := chain.Dial(ctx, cfg.Chain.RpcUrl, chain.Options{
		Timeout:  cfg.Chain.RpcTimeout,
		MaxTries: cfg.Chain.RpcMaxRetries,
	})
	if err != nil {
		logger.Fatal("连接节点失败", zap.Error(err))
	}
	defer gw.Close()

	// 4. 初始化签名钱包池
	popts, err := purse.OptionsFromConfig(cfg.Purse, cfg.Chain)
	if err != nil {
		logger.Fatal("钱包池配置错误", zap.Error(err))
	}
	p, err := purse.NewFromMnemonic(gw, mnemonic, popts)
	if err != nil {
		logger.Fatal("初始化钱包池失败", zap.Error(err))
	}
	if err := p.Init(ctx); err != nil {
		// 节点或主钱包有问题时仍然启动，未派生时中继请求得到 503，cron 会继续尝试
		logger.Error("钱包池初始化失败", zap.Error(err))
	} else {
		logger.Info("钱包池就绪", zap.String("master", p.MasterAddress().Hex()), zap.Int("signers", p.Size()))
	}

	// 5. 连接 Redis (按需)
	var rdb *redis.Client
	if needsRedis(cfg) {
		rdb, err = database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Redis 连接失败", zap.Error(err))
		}
		defer rdb.Close()
	}

	// 6. 单飞锁
	var g guard.Guard
	if cfg.Guard.Backend == "redis" {
		g = guard.NewRedisGuard(rdb, cfg.Guard.MaxAge)
	} else {
		g = guard.NewMemoryGuard(cfg.Guard.MaxAge)
	}
	logger.Info("在途锁后端", zap.String("backend", cfg.Guard.Backend), zap.Duration("max_age", cfg.Guard.MaxAge))

	// 7. 消息队列
	var uc redis.UniversalClient
	if rdb != nil {
		uc = rdb
	}
	producer, err := mq.NewProducer(cfg, uc)
	switch {
	case errors.Is(err, mq.ErrDisabled):
		logger.Info("消息队列未启用，中继事件不会对外发布")
	case err != nil:
		logger.Fatal("初始化消息队列失败", zap.Error(err))
	default:
		logger.Info("中继事件发布到消息队列", zap.String("mq_type", cfg.Redis.MQType))
		defer producer.Close()
	}

	// 8. 中继记录存储
	var repo repository.RelayRepository
	if cfg.Store.Driver == "postgres" {
		db, err := database.ConnectPostgres(cfg.DB.DSN(), cfg.App.Env != "production")
		if err != nil {
			logger.Fatal("数据库连接失败", zap.Error(err))
		}
		if cfg.App.Env != "production" {
			// 开发环境自动建表，生产环境使用 cmd/migrate
			if err := db.AutoMigrate(model.AllModels()...); err != nil {
				logger.Fatal("AutoMigrate 失败", zap.Error(err))
			}
		}
		gormRepo := repository.NewGormRelayRepository(db)
		repo = gormRepo
		if producer != nil {
			// 事件先写本地消息表，由 OutboxRelay 投递
			go service.NewOutboxRelay(gormRepo, producer).Start(ctx)
		}
	} else {
		var pub event.Publisher = event.Discard
		if producer != nil {
			pub = mq.NewEventPublisher(producer, event.Topic)
		}
		repo = repository.NewMemoryRelayRepository(pub)
	}

	// 9. 交易确认
	ropts, err := relay.OptionsFromConfig(cfg.Chain, cfg.Guard)
	if err != nil {
		logger.Fatal("中继配置错误", zap.Error(err))
	}

	var relayer *relay.Relayer
	switch cfg.Confirmer.Mode {
	case "asynq":
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		client := worker.NewClient(redisOpt, cfg.Confirmer.PollInterval)
		defer client.Close()
		relayer = relay.New(gw, p, g, repo, client, ropts)

		srv := worker.NewServer(redisOpt, cfg.Confirmer.Concurrency, cfg.Confirmer.PollInterval, relayer)
		if err := srv.Start(); err != nil {
			logger.Fatal("Worker 启动失败", zap.Error(err))
		}
		defer srv.Stop()
		recoverPending(ctx, relayer)
	default:
		poller := relay.NewPollingConfirmer(cfg.Confirmer.PollInterval, cfg.Confirmer.Concurrency)
		relayer = relay.New(gw, p, g, repo, poller, ropts)
		recoverPending(ctx, relayer)
		go poller.Run(ctx, relayer)
	}

	// 10. 定时补充签名钱包余额
	var locker lock.DistributedLock = lock.NewLocalLock()
	if rdb != nil {
		locker = lock.NewRedisLock(rdb)
	}
	cronService := service.NewCronService(locker, p, cfg.Purse.ReplenishSpec, cfg.Purse.FundingTimeout)
	if err := cronService.Start(); err != nil {
		logger.Fatal("Cron 启动失败", zap.Error(err))
	}
	defer cronService.Stop()

	// 11. HTTP + gRPC
	router := server.NewHTTPRouter(server.Handlers{
		Relay: handler.NewRelayHandler(relayer),
		Purse: handler.NewPurseHandler(p),
	})
	app, err := server.New(server.Config{
		HttpPort: cfg.App.HttpPort,
		GrpcPort: cfg.App.GrpcPort,
	}, router)
	if err != nil {
		logger.Fatal("服务初始化失败", zap.Error(err))
	}
	app.SetServing(p.Size() > 0)

	app.Run()

	// 12. 回收签名钱包
	cancel()
	tctx, tcancel := context.WithTimeout(context.Background(), cfg.Purse.FundingTimeout)
	defer tcancel()
	if err := p.Teardown(tctx, cfg.Purse.DrainOnShutdown); err != nil {
		logger.Error("回收签名钱包失败", zap.Error(err))
	}
}

func needsRedis(cfg config.Config) bool {
	return cfg.Guard.Backend == "redis" || cfg.Confirmer.Mode == "asynq" || mq.NeedsRedis(cfg)
}

// recoverPending 重启后继续跟踪未终结的交易
func recoverPending(ctx context.Context, relayer *relay.Relayer) {
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := relayer.Recover(rctx)
	if err != nil {
		logger.Error("恢复未确认交易失败", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("恢复未确认交易", zap.Int("count", n))
	}
}
