package worker

import (
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"relay-core/internal/relay"
	"relay-core/internal/worker/tasks"
	"relay-core/pkg/logger"
)

// Server 封装 Asynq Server (Worker)
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer 初始化 Worker Server
// interval: 未确认交易的轮询间隔
func NewServer(opt asynq.RedisConnOpt, concurrency int, interval time.Duration, resolver relay.Resolver) *Server {
	srv := asynq.NewServer(opt, asynq.Config{
		// 并发数：同时处理多少个任务
		Concurrency: concurrency,
		Queues: map[string]int{
			"critical": 6, // 交易确认
			"default":  3,
			"low":      1,
		},
		RetryDelayFunc: tasks.RetryDelay(interval),
		IsFailure:      tasks.IsFailure,
		Logger:         logger.NewAsynqLogger(),
	})

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeRelayConfirm, tasks.NewConfirmHandler(resolver))

	return &Server{server: srv, mux: mux}
}

// Run 启动 Worker (阻塞)
func (s *Server) Run() error {
	logger.Info("Worker Server starting...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	logger.Info("Worker Server starting...")
	if err := s.server.Start(s.mux); err != nil {
		logger.Error("Worker Server failed", zap.Error(err))
		return err
	}
	return nil
}

// Stop 停止 Worker
func (s *Server) Stop() {
	s.server.Stop()
	s.server.Shutdown()
}
