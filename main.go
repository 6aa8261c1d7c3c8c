package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	flag "github.com/ogier/pflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pganalyze/sqlserver-collector/config"
	"github.com/pganalyze/sqlserver-collector/runner"
	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

const defaultConfigFile = "/etc/sqlserver-collector.conf"

func main() {
	var configFilename string
	var testRun bool
	var testSection string
	var dryRun bool
	var outputAsJSON bool
	var metricsAddress string
	var reloadRun bool
	var showVersion bool
	var verbose bool
	var quiet bool

	flag.StringVarP(&configFilename, "config", "c", defaultConfigFile, "Specify alternative path for config file")
	flag.BoolVarP(&testRun, "test", "t", false, "Tests whether we can successfully collect activity, submits it once, and exits")
	flag.StringVar(&testSection, "test-section", "", "Tests a particular section of the config file, i.e. a specific server, and ignores all other config sections")
	flag.BoolVar(&dryRun, "dry-run", false, "Print the collected activity instead of sending it (implies --test)")
	flag.BoolVar(&outputAsJSON, "json", false, "Print the collected activity event as JSON (requires --dry-run)")
	flag.StringVar(&metricsAddress, "metrics-address", "", "Serve Prometheus metrics and a health check on this address, e.g. :9187")
	flag.BoolVar(&reloadRun, "reload", false, "Reloads the running collector, after a successful --test if given")
	flag.BoolVar(&showVersion, "version", false, "Shows the collector version")
	flag.BoolVarP(&verbose, "verbose", "v", false, "Outputs additional debugging information, use this if you're encountering errors or other problems")
	flag.BoolVarP(&quiet, "quiet", "q", false, "Only outputs error messages to the logs and hides informational and warning messages")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s\n", util.CollectorVersion)
		return
	}

	logger := util.NewLogger(verbose, quiet)

	if reloadRun && !testRun && !dryRun {
		doReload(logger)
		return
	}

	if dryRun {
		testRun = true
	}

	globalCollectionOpts := state.CollectionOpts{
		CollectorApplicationName: util.CollectorNameAndVersion,
		SubmitCollectedData:      !dryRun,
		TestRun:                  testRun,
		TestSection:              testSection,
		OutputAsJson:             outputAsJSON,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	defer metricsCancel()
	if metricsAddress != "" && !testRun {
		util.SetupMetricsServer(metricsCtx, logger, metricsAddress, registry)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		ctx, cancel := context.WithCancel(context.Background())
		wg := sync.WaitGroup{}

		keepRunning, testRunSuccess, shutdown := runner.Run(ctx, &wg, globalCollectionOpts, logger, configFilename, registry)

		if testRunSuccess != nil {
			var success bool
			select {
			case success = <-testRunSuccess:
			case <-sigs:
				logger.PrintInfo("Interrupted, exiting")
			}
			cancel()
			wg.Wait()
			shutdown()
			if !success {
				os.Exit(1)
			}
			if reloadRun && !dryRun {
				doReload(logger)
			}
			return
		}

		if !keepRunning {
			cancel()
			shutdown()
			os.Exit(1)
		}

		configChanged := make(chan struct{}, 1)
		go func() {
			err := config.Watch(ctx, logger, configFilename, func() {
				select {
				case configChanged <- struct{}{}:
				default:
				}
			})
			if err != nil {
				logger.PrintVerbose("Not watching config file for changes: %s", err)
			}
		}()

		reload := false
		select {
		case s := <-sigs:
			if s == syscall.SIGHUP {
				logger.PrintInfo("Reloading configuration...")
				reload = true
			} else {
				logger.PrintInfo("Exiting...")
			}
		case <-configChanged:
			logger.PrintInfo("Config file changed, reloading configuration...")
			reload = true
		}

		cancel()
		wg.Wait()
		shutdown()

		if !reload {
			break
		}
	}

	signal.Stop(sigs)
}

func doReload(logger *util.Logger) {
	pid, err := util.Reload()
	if err != nil {
		logger.PrintError("Error: Failed to reload collector: %s", err)
		os.Exit(1)
	}
	logger.PrintInfo("Successfully reloaded sqlserver-collector (PID %d)", pid)
}
