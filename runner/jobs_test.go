package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/pganalyze/sqlserver-collector/config"
	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

func countingConnect(calls *int32) connectFunc {
	return func(ctx context.Context, server *state.Server, logger *util.Logger, opts state.CollectionOpts) (*sqlx.DB, error) {
		atomic.AddInt32(calls, 1)
		return nil, errors.New("server unavailable")
	}
}

func TestActivityJobDisabled(t *testing.T) {
	var calls int32
	target, _ := testTarget(config.ServerConfig{DisableActivity: true})
	job := newActivityJob(target, submitOpts, testLogger(), nil, countingConnect(&calls))

	require.Equal(t, "query-activity", job.Name())
	require.False(t, job.Enabled())

	job.RunJobLoop(context.Background())
	job.Wait()
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestActivityJobRunSync(t *testing.T) {
	var calls int32
	target, _ := testTarget(config.ServerConfig{ActivityRunSync: true, ActivityCollectionInterval: 0.05})
	job := newActivityJob(target, submitOpts, testLogger(), nil, countingConnect(&calls))

	started := time.Now()
	job.RunJobLoop(context.Background())
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	job.RunJobLoop(context.Background())
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// The second poll had to wait for the rate limiter
	require.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
}

func TestActivityJobBackgroundLoop(t *testing.T) {
	var calls int32
	target, _ := testTarget(config.ServerConfig{ActivityCollectionInterval: 0.01})
	job := newActivityJob(target, submitOpts, testLogger(), nil, countingConnect(&calls))

	ctx, cancel := context.WithCancel(context.Background())
	job.RunJobLoop(ctx)
	require.True(t, job.running.Load())

	// Calls while the loop is running don't start another one
	job.RunJobLoop(ctx)
	job.RunJobLoop(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	job.Wait()
	require.False(t, job.running.Load())

	stopped := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, stopped, atomic.LoadInt32(&calls))
}

func TestActivityJobCanceledBeforePoll(t *testing.T) {
	var calls int32
	target, _ := testTarget(config.ServerConfig{ActivityRunSync: true})
	job := newActivityJob(target, submitOpts, testLogger(), nil, countingConnect(&calls))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job.RunJobLoop(ctx)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
