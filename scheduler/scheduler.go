package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/pganalyze/sqlserver-collector/util"
)

// Group - Runs jobs either on a cron schedule, or every fixed number of seconds
type Group struct {
	interval *cronexpr.Expression
	every    time.Duration
}

// NewIntervalGroup returns a group that fires every given number of seconds, counted from the previous run
func NewIntervalGroup(seconds float64) Group {
	return Group{every: time.Duration(seconds * float64(time.Second))}
}

func (group Group) next(now time.Time) time.Time {
	if group.interval != nil {
		return group.interval.Next(now)
	}
	return now.Add(group.every)
}

// Schedule runs the runner in a goroutine until ctx is done. Runs never overlap,
// the next run is scheduled once the previous one returned.
func (group Group) Schedule(ctx context.Context, runner func(context.Context), logger *util.Logger, logName string) {
	go func() {
		for {
			now := time.Now()
			delay := group.next(now).Sub(now)

			logger.PrintVerbose("Scheduled next run for %s in %+v", logName, delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				runner(ctx)
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}

func GetSchedulerGroups() (groups map[string]Group, err error) {
	oneMinuteInterval, err := cronexpr.Parse("0 * * * * * *")
	if err != nil {
		return nil, fmt.Errorf("could not parse stats interval: %s", err)
	}

	groups = make(map[string]Group)

	groups["stats"] = Group{interval: oneMinuteInterval}

	return
}
