package runner

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/pganalyze/sqlserver-collector/input/sqlserver"
	"github.com/pganalyze/sqlserver-collector/output"
	"github.com/pganalyze/sqlserver-collector/output/transform"
	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

type connectFunc func(ctx context.Context, server *state.Server, logger *util.Logger, opts state.CollectionOpts) (*sqlx.DB, error)

// ActivityServer - A monitored server together with where its events go
type ActivityServer struct {
	Server     *state.Server
	Sink       output.Sink
	Obfuscator util.Obfuscator
}

func processActivityForServer(ctx context.Context, target ActivityServer, opts state.CollectionOpts, logger *util.Logger, metrics *util.ActivityMetrics, connect connectFunc) (state.PersistedActivityState, bool, error) {
	var activity state.TransientActivityState

	server := target.Server
	newState := server.ActivityPrevState
	sectionName := server.Config.SectionName

	if server.Config.DisableActivity {
		return newState, false, state.ErrActivityDisabled
	}

	started := time.Now()

	connection, err := connect(ctx, server, logger, opts)
	if err != nil {
		return newState, false, errors.Wrap(err, "failed to connect to database")
	}
	defer connection.Close()

	activity.Connections, err = sqlserver.GetConnections(ctx, connection, logger)
	if err != nil {
		return newState, false, err
	}

	rows, err := sqlserver.GetActivity(ctx, connection, logger, newState.Watermark, server.Config.GetActivityCollectionInterval())
	if err != nil {
		return newState, false, err
	}
	activity.FetchedRows = len(rows)

	var truncated int
	activity.Rows, truncated = transform.NormalizeActivityRows(rows, &newState.Watermark, server.Config.GetActivityPayloadMaxBytes(), transform.NormalizeOptions{
		Obfuscator: target.Obfuscator,
		Logger:     logger,
	})
	activity.CollectedAt = time.Now()

	err = output.SubmitActivityEvent(ctx, server, opts, logger, target.Sink, activity)
	if err != nil {
		return newState, false, errors.Wrap(err, "failed to send activity event")
	}
	newState.ActivitySnapshotAt = activity.CollectedAt

	metrics.ObserveCollectDuration(sectionName, time.Since(started))
	metrics.AddRows(sectionName, "fetched", activity.FetchedRows)
	metrics.AddRows(sectionName, "submitted", len(activity.Rows))
	metrics.AddRows(sectionName, "truncated", truncated)

	logger.PrintVerbose("Activity: %d of %d fetched rows, %d connection groups", len(activity.Rows), activity.FetchedRows, len(activity.Connections))

	return newState, true, nil
}

// CollectActivityFromAllServers - Collects activity from all servers and sends it to the configured outputs
func CollectActivityFromAllServers(ctx context.Context, targets []ActivityServer, opts state.CollectionOpts, logger *util.Logger, metrics *util.ActivityMetrics) (allSuccessful bool) {
	return collectActivityFromAllServers(ctx, targets, opts, logger, metrics, sqlserver.EstablishConnection)
}

func collectActivityFromAllServers(ctx context.Context, targets []ActivityServer, opts state.CollectionOpts, logger *util.Logger, metrics *util.ActivityMetrics, connect connectFunc) (allSuccessful bool) {
	var wg sync.WaitGroup
	var mutex sync.Mutex

	allSuccessful = true

	for idx := range targets {
		target := targets[idx]
		if target.Server.Config.DisableActivity {
			continue
		}

		wg.Add(1)
		go func(target ActivityServer) {
			defer wg.Done()
			server := target.Server
			prefixedLogger := logger.WithPrefix(server.Config.SectionName)

			if opts.TestRun {
				prefixedLogger.PrintInfo("Testing activity collection...")
			}

			server.ActivityStateMutex.Lock()
			newState, success, err := processActivityForServer(ctx, target, opts, prefixedLogger, metrics, connect)
			if err != nil {
				server.ActivityStateMutex.Unlock()
				if err == state.ErrActivityDisabled {
					prefixedLogger.PrintVerbose("Activity collection disabled, skipping")
					return
				}

				mutex.Lock()
				allSuccessful = false
				mutex.Unlock()
				metrics.IncError(server.Config.SectionName)
				prefixedLogger.PrintError("Could not collect activity for server: %s", err)
				if server.Config.ErrorCallback != "" {
					go runCompletionCallback("error", server.Config.ErrorCallback, server.Config.SectionName, "activity", err, prefixedLogger)
				}
			} else {
				server.ActivityPrevState = newState
				server.ActivityStateMutex.Unlock()
				if success && server.Config.SuccessCallback != "" {
					go runCompletionCallback("success", server.Config.SuccessCallback, server.Config.SectionName, "activity", nil, prefixedLogger)
				}
			}
		}(target)
	}

	wg.Wait()

	return
}
