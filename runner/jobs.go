package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

const activityJobName = "query-activity"

// ActivityJob - Polls activity for one server, either inline or in a background loop
//
// RunJobLoop gets called by the scheduler every min_collection_interval. With
// activity_run_sync set, every call runs exactly one poll. Otherwise the first
// call starts a loop that keeps polling at the collection interval until the
// context is canceled, and later calls are no-ops while that loop is running.
type ActivityJob struct {
	target  ActivityServer
	opts    state.CollectionOpts
	logger  *util.Logger
	metrics *util.ActivityMetrics
	connect connectFunc

	limiter *rate.Limiter
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewActivityJob(target ActivityServer, opts state.CollectionOpts, logger *util.Logger, metrics *util.ActivityMetrics) *ActivityJob {
	return newActivityJob(target, opts, logger, metrics, nil)
}

func newActivityJob(target ActivityServer, opts state.CollectionOpts, logger *util.Logger, metrics *util.ActivityMetrics, connect connectFunc) *ActivityJob {
	interval := time.Duration(target.Server.Config.GetActivityCollectionInterval() * float64(time.Second))
	return &ActivityJob{
		target:  target,
		opts:    opts,
		logger:  logger.WithPrefix(target.Server.Config.SectionName),
		metrics: metrics,
		connect: connect,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (job *ActivityJob) Name() string {
	return activityJobName
}

// Enabled reports whether the server has activity collection turned on
func (job *ActivityJob) Enabled() bool {
	return !job.target.Server.Config.DisableActivity
}

func (job *ActivityJob) RunJobLoop(ctx context.Context) {
	if !job.Enabled() {
		job.logger.PrintVerbose("Job %s disabled, skipping", activityJobName)
		return
	}

	if job.target.Server.Config.ActivityRunSync {
		job.runRateLimited(ctx)
		return
	}

	if !job.running.CompareAndSwap(false, true) {
		return
	}
	job.wg.Add(1)
	go func() {
		defer job.wg.Done()
		defer job.running.Store(false)
		job.logger.PrintVerbose("Started %s loop", activityJobName)
		for ctx.Err() == nil {
			job.runRateLimited(ctx)
		}
		job.logger.PrintVerbose("Stopped %s loop", activityJobName)
	}()
}

// Wait blocks until a background loop started by RunJobLoop has returned
func (job *ActivityJob) Wait() {
	job.wg.Wait()
}

func (job *ActivityJob) runRateLimited(ctx context.Context) {
	if err := job.limiter.Wait(ctx); err != nil {
		return
	}
	job.RunOnce(ctx)
}

// RunOnce runs a single poll, and reports whether it succeeded
func (job *ActivityJob) RunOnce(ctx context.Context) bool {
	connect := job.connect
	if connect == nil {
		return CollectActivityFromAllServers(ctx, []ActivityServer{job.target}, job.opts, job.logger, job.metrics)
	}
	return collectActivityFromAllServers(ctx, []ActivityServer{job.target}, job.opts, job.logger, job.metrics, connect)
}
