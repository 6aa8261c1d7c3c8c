package config

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/pganalyze/sqlserver-collector/util"
)

// retryableLogger adapts our logger to retryablehttp's leveled logger interface
type retryableLogger struct {
	logger *util.Logger
}

func (l retryableLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.PrintVerbose("HTTP error: %s %v", msg, keysAndValues)
}

func (l retryableLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.PrintVerbose("HTTP: %s %v", msg, keysAndValues)
}

func (l retryableLogger) Debug(msg string, keysAndValues ...interface{}) {
}

func (l retryableLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.PrintVerbose("HTTP warning: %s %v", msg, keysAndValues)
}

// CreateHTTPClients sets up the plain and the retrying HTTP client for each server
func CreateHTTPClients(conf Config, logger *util.Logger) Config {
	for idx := range conf.Servers {
		conf.Servers[idx].HTTPClient = &http.Client{Timeout: 30 * time.Second}
		conf.Servers[idx].HTTPClientWithRetry = createRetryClient(logger)
	}
	return conf
}

func createRetryClient(logger *util.Logger) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = retryableLogger{logger: logger}
	return client.StandardClient()
}
