package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/stevedores/dashboard-sync/internal/logging"
)

// cronRunner runs jobs on cron specs with a shared base context.
type cronRunner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

func newCronRunner(baseCtx context.Context) *cronRunner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &cronRunner{
		cron:    cron.New(cron.WithSeconds()),
		baseCtx: baseCtx,
	}
}

func (r *cronRunner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		job(r.baseCtx)
	})
}

func (r *cronRunner) Start() {
	logging.Debug("cron started", map[string]interface{}{"entries": len(r.cron.Entries())})
	r.cron.Start()
}

// Stop stops the cron and waits for running jobs.
func (r *cronRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	logging.Debug("cron stopped")
}
