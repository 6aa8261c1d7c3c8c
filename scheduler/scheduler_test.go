package scheduler

import (
	"bytes"
	"context"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pganalyze/sqlserver-collector/util"
)

func TestScheduler(t *testing.T) {
	groups, err := GetSchedulerGroups()
	if err != nil {
		t.Errorf("Error: %v\n", err)
	}

	someTime := time.Date(2013, 1, 1, 0, 5, 30, 0, time.UTC)
	expectedNextRun := time.Date(2013, 1, 1, 0, 6, 0, 0, time.UTC)
	actualNextRun := groups["stats"].next(someTime)

	if expectedNextRun != actualNextRun {
		t.Errorf("\nNext run:\n\texpected %s\n\tactual %s\n\n", expectedNextRun, actualNextRun)
	}
}

func TestIntervalGroup(t *testing.T) {
	group := NewIntervalGroup(15)

	someTime := time.Date(2013, 1, 1, 0, 5, 30, 0, time.UTC)
	expectedNextRun := time.Date(2013, 1, 1, 0, 5, 45, 0, time.UTC)
	actualNextRun := group.next(someTime)

	if expectedNextRun != actualNextRun {
		t.Errorf("\nNext run:\n\texpected %s\n\tactual %s\n\n", expectedNextRun, actualNextRun)
	}
}

func TestScheduleStopsWithContext(t *testing.T) {
	logger := &util.Logger{Destination: log.New(&bytes.Buffer{}, "", 0)}
	ctx, cancel := context.WithCancel(context.Background())

	var runs int32
	done := make(chan struct{})
	NewIntervalGroup(0.01).Schedule(ctx, func(ctx context.Context) {
		if atomic.AddInt32(&runs, 1) == 3 {
			close(done)
		}
	}, logger, "test")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner was not called three times")
	}
	cancel()

	time.Sleep(50 * time.Millisecond)
	stopped := atomic.LoadInt32(&runs)
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&runs) != stopped {
		t.Errorf("runner still called after context was canceled")
	}
}
