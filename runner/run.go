package runner

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pganalyze/sqlserver-collector/config"
	"github.com/pganalyze/sqlserver-collector/output"
	"github.com/pganalyze/sqlserver-collector/scheduler"
	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

// Run reads the configuration and schedules activity collection for every
// configured server. In test mode a single poll runs instead, and its outcome
// is reported on testRunSuccess.
func Run(ctx context.Context, wg *sync.WaitGroup, globalCollectionOpts state.CollectionOpts, logger *util.Logger, configFilename string, registerer prometheus.Registerer) (keepRunning bool, testRunSuccess chan bool, shutdown func()) {
	var targets []ActivityServer
	var jobs []*ActivityJob

	keepRunning = false
	shutdown = func() {}

	schedulerGroups, err := scheduler.GetSchedulerGroups()
	if err != nil {
		logger.PrintError("Error: Could not get scheduler groups")
		return
	}

	conf, err := config.Read(logger, configFilename)
	if err != nil {
		logger.PrintError("Config Error: %s", err)
		keepRunning = !globalCollectionOpts.TestRun
		return
	}

	conf = config.CreateHTTPClients(conf, logger)

	for _, cfg := range conf.Servers {
		if globalCollectionOpts.TestRun && globalCollectionOpts.TestSection != "" && globalCollectionOpts.TestSection != cfg.SectionName {
			continue
		}

		prefixedLogger := logger.WithPrefix(cfg.SectionName)
		prefixedLogger.PrintVerbose("Identified as api_system_type: %s, api_system_scope: %s, api_system_id: %s", cfg.SystemType, cfg.SystemScope, cfg.SystemID)

		server := state.MakeServer(cfg)

		sink, err := output.NewSink(server, globalCollectionOpts, prefixedLogger)
		if err != nil {
			prefixedLogger.PrintError("Could not set up %s output: %s", cfg.Output, err)
			continue
		}
		obfuscator, err := util.NewObfuscator(cfg.Obfuscator)
		if err != nil {
			prefixedLogger.PrintError("Could not set up obfuscator: %s", err)
			sink.Close()
			continue
		}

		targets = append(targets, ActivityServer{Server: server, Sink: sink, Obfuscator: obfuscator})
	}

	if len(targets) == 0 {
		logger.PrintError("No servers to monitor, please check the configuration")
		keepRunning = !globalCollectionOpts.TestRun
		return
	}

	metrics := util.NewActivityMetrics(registerer)

	shutdown = func() {
		for _, job := range jobs {
			job.Wait()
		}
		for _, target := range targets {
			if err := target.Sink.Close(); err != nil {
				logger.WithPrefix(target.Server.Config.SectionName).PrintVerbose("Could not close output: %s", err)
			}
		}
	}

	if globalCollectionOpts.TestRun {
		logger.PrintInfo("Running collector test with %s", util.CollectorNameAndVersion)

		wg.Add(1)
		// Buffered so the goroutine can finish even when nobody reads the result
		testRunSuccess = make(chan bool, 1)
		go func() {
			defer wg.Done()
			success := CollectActivityFromAllServers(ctx, targets, globalCollectionOpts, logger, metrics)
			if success {
				fmt.Fprintln(os.Stderr, "Test successful")
				fmt.Fprintln(os.Stderr)
			}
			testRunSuccess <- success
		}()
		return
	}

	for _, target := range targets {
		if target.Server.Config.DisableActivity {
			logger.WithPrefix(target.Server.Config.SectionName).PrintInfo("Activity collection disabled for this server")
			continue
		}

		job := NewActivityJob(target, globalCollectionOpts, logger, metrics)
		jobs = append(jobs, job)

		runJob := func(ctx context.Context) {
			wg.Add(1)
			job.RunJobLoop(ctx)
			wg.Done()
		}
		go runJob(ctx)

		group := scheduler.NewIntervalGroup(target.Server.Config.GetMinCollectionInterval())
		group.Schedule(ctx, runJob, logger, fmt.Sprintf("%s of %s", job.Name(), target.Server.Config.SectionName))
	}

	schedulerGroups["stats"].Schedule(ctx, func(ctx context.Context) {
		for _, target := range targets {
			output.LogSubmitStats(target.Server, logger.WithPrefix(target.Server.Config.SectionName))
		}
	}, logger, "submit statistics")

	keepRunning = true
	return
}
