// Package cron is the background-job runner the periodic collaborators
// register on: the signal expiry sweep and the position monitor's three
// passes implement the same Run/Name contract and share one robfig/cron
// clock instead of each owning a raw time.Ticker goroutine. The tiered
// whale scheduler is not among them; it runs its own ticker per tier.
package cron

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Job is anything this runner can schedule.
type Job interface {
	Run() error
	Name() string
}

// Runner wraps a single cron.Cron with second-level precision, since every
// job registered here runs on a sub-minute cadence.
type Runner struct {
	cron *cron.Cron
}

func New() *Runner {
	return &Runner{cron: cron.New(cron.WithSeconds())}
}

// Every registers job on schedule, e.g. "@every 10s" or "*/30 * * * * *".
// A failing job is logged and skipped; it never stops the runner.
func (r *Runner) Every(schedule string, job Job) error {
	_, err := r.cron.AddFunc(schedule, func() {
		if err := job.Run(); err != nil {
			log.Error().Err(err).Str("job", job.Name()).Msg("scheduled job failed")
		}
	})
	return err
}

func (r *Runner) Start() { r.cron.Start() }

// Stop blocks until any job already in flight returns.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}
