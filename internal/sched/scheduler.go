package sched

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Task runs when a deadline armed under key comes due.
type Task func(ctx context.Context, key string)

// Scheduler tracks one target epoch per key and fires tasks from a
// periodic re-evaluating tick, so no single timer ever has to cover an
// arbitrarily long delay. Deadlines live in the durable store; on boot
// the caller re-arms them from persisted data, which makes restarts
// deterministic.
type Scheduler struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	log       zerolog.Logger
	deadlines map[string]int64
	tasks     map[string]Task
	recurring map[string]Task

	sch gocron.Scheduler
}

func New(clock clockwork.Clock, log zerolog.Logger, tick time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		clock:     clock,
		log:       log,
		deadlines: map[string]int64{},
		tasks:     map[string]Task{},
		recurring: map[string]Task{},
	}

	sch, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, err
	}

	_, err = sch.NewJob(
		gocron.DurationJob(tick),
		gocron.NewTask(func() {
			s.RunDue(context.Background())
		}),
	)
	if err != nil {
		return nil, err
	}

	s.sch = sch
	return s, nil
}

func (s *Scheduler) Start() {
	s.sch.Start()
}

func (s *Scheduler) Stop() {
	if err := s.sch.Shutdown(); err != nil {
		s.log.Warn().Err(err).Msg("scheduler shutdown")
	}
}

// Arm schedules task to run once the clock passes at (epoch ms). Arming
// an already-armed key overwrites the previous deadline. Deadlines in
// the past fire on the next tick.
func (s *Scheduler) Arm(key string, at int64, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[key] = at
	s.tasks[key] = task
}

// Cancel revokes a pending deadline. Canceling an unknown key is a no-op.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadlines, key)
	delete(s.tasks, key)
}

// Every registers a task that runs on every tick, alongside the due
// deadlines. Registering an existing name replaces its task.
func (s *Scheduler) Every(name string, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recurring[name] = task
}

// Armed reports whether key currently has a pending deadline.
func (s *Scheduler) Armed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deadlines[key]
	return ok
}

// RunDue fires every task whose deadline has passed. Each key is
// released before its task runs, so a task re-arming the same key
// (chunking a long delay) works without deadlock.
func (s *Scheduler) RunDue(ctx context.Context) {
	now := s.clock.Now().UnixMilli()

	s.mu.Lock()
	var due []string
	for key, at := range s.deadlines {
		if at <= now {
			due = append(due, key)
		}
	}
	tasks := make(map[string]Task, len(due))
	for _, key := range due {
		tasks[key] = s.tasks[key]
		delete(s.deadlines, key)
		delete(s.tasks, key)
	}
	ticks := make(map[string]Task, len(s.recurring))
	for name, task := range s.recurring {
		ticks[name] = task
	}
	s.mu.Unlock()

	for _, key := range due {
		s.runTask(ctx, key, tasks[key])
	}
	for name, task := range ticks {
		s.runTask(ctx, name, task)
	}
}

func (s *Scheduler) runTask(ctx context.Context, key string, task Task) {
	if task == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("key", key).Msg("scheduled task panicked")
		}
	}()
	task(ctx, key)
}
