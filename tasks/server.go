package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// Queue names, highest priority first.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// ServerConfig holds configuration for the task server.
type ServerConfig struct {
	Redis       RedisConfig
	Concurrency int
	Queues      map[string]int // Queue name -> priority
}

// DefaultServerConfig returns a default server configuration.
func DefaultServerConfig(redis RedisConfig) *ServerConfig {
	return &ServerConfig{
		Redis:       redis,
		Concurrency: 4,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
	}
}

// Server wraps an Asynq server for processing tasks.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer creates a new task server.
func NewServer(cfg *ServerConfig) *Server {
	server := asynq.NewServer(
		cfg.Redis.clientOpt(),
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			Logger:      zerologAdapter{},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error().
					Err(err).
					Str("task_type", task.Type()).
					Bytes("payload", task.Payload()).
					Msg("Task failed")
			}),
		},
	)

	return &Server{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// Handle registers a handler for the given task type.
func (s *Server) Handle(taskType string, handler asynq.Handler) {
	s.mux.Handle(taskType, handler)
	log.Debug().Str("task_type", taskType).Msg("Registered task handler")
}

// Start starts processing in the background.
func (s *Server) Start() error {
	log.Info().Msg("Starting task server")
	return s.server.Start(s.mux)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() {
	log.Info().Msg("Shutting down task server")
	s.server.Shutdown()
}

// TaskHandler adapts a typed function to asynq.Handler, decoding the JSON
// payload into T.
type TaskHandler[T any] struct {
	handler func(context.Context, T) error
}

// NewTaskHandler creates a new typed task handler.
func NewTaskHandler[T any](handler func(context.Context, T) error) *TaskHandler[T] {
	return &TaskHandler[T]{handler: handler}
}

// ProcessTask implements asynq.Handler.
func (h *TaskHandler[T]) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshaling task payload: %w: %w", err, asynq.SkipRetry)
	}
	return h.handler(ctx, payload)
}

// zerologAdapter routes asynq's internal logging through zerolog.
type zerologAdapter struct{}

func (zerologAdapter) Debug(args ...interface{}) { log.Debug().Msg(fmt.Sprint(args...)) }
func (zerologAdapter) Info(args ...interface{})  { log.Info().Msg(fmt.Sprint(args...)) }
func (zerologAdapter) Warn(args ...interface{})  { log.Warn().Msg(fmt.Sprint(args...)) }
func (zerologAdapter) Error(args ...interface{}) { log.Error().Msg(fmt.Sprint(args...)) }
func (zerologAdapter) Fatal(args ...interface{}) { log.Fatal().Msg(fmt.Sprint(args...)) }
