package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/agroclim/weather-pipeline/internal/pipeline"
)

// Scheduler periodically runs the acquisition pipeline.
type Scheduler struct {
	scheduler *gocron.Scheduler
	pipe      *pipeline.Pipeline
	interval  time.Duration
	opts      pipeline.Options
}

// New creates a new Scheduler around the pipeline.
func New(pipe *pipeline.Pipeline, interval time.Duration, opts pipeline.Options) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		pipe:      pipe,
		interval:  interval,
		opts:      opts,
	}
}

// Start schedules the periodic pipeline run and starts the underlying
// scheduler. The first run fires immediately.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	_, err := s.scheduler.Every(minutes).Minutes().StartImmediately().Do(func() {
		log.Println("scheduler: starting pipeline run")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		summary := s.pipe.Run(ctx, s.opts)
		if summary.Failed() {
			log.Printf("scheduler: run %s finished with failures", summary.RunID)
			return
		}
		log.Printf("scheduler: run %s completed", summary.RunID)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
