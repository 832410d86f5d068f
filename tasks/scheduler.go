package tasks

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// Scheduler enqueues periodic tasks on cron specs.
type Scheduler struct {
	scheduler *asynq.Scheduler
}

// NewScheduler creates a new periodic task scheduler.
func NewScheduler(cfg RedisConfig) *Scheduler {
	return &Scheduler{
		scheduler: asynq.NewScheduler(cfg.clientOpt(), &asynq.SchedulerOpts{
			Logger: zerologAdapter{},
		}),
	}
}

// Register enqueues taskType on spec, for example "@every 1m".
func (s *Scheduler) Register(spec, taskType string, opts ...asynq.Option) error {
	entryID, err := s.scheduler.Register(spec, asynq.NewTask(taskType, nil), opts...)
	if err != nil {
		return fmt.Errorf("registering periodic task %s: %w", taskType, err)
	}

	log.Debug().
		Str("task_type", taskType).
		Str("spec", spec).
		Str("entry_id", entryID).
		Msg("Registered periodic task")
	return nil
}

// Start starts the scheduler in the background.
func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

// Shutdown stops the scheduler.
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
