package sqlserver

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/azuread"
	"github.com/pkg/errors"

	"github.com/pganalyze/sqlserver-collector/config"
	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

// Login failed for user
const loginFailedErrorNumber = 18456

// EstablishConnection - Opens a single connection to the server, retrying
// transient failures up to max_connection_retries times
func EstablishConnection(ctx context.Context, server *state.Server, logger *util.Logger, opts state.CollectionOpts) (*sqlx.DB, error) {
	driverName := driverNameFor(server.Config)
	connString := server.Config.GetSqlServerConnString(opts.CollectorApplicationName)

	var db *sqlx.DB
	operation := func() error {
		var err error
		db, err = connectToDb(ctx, driverName, connString)
		if err != nil && !isRetryableConnectError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.PrintVerbose("Failed to connect to %s, retrying in %s: %s", server.Config.GetDbHost(), wait.Round(time.Millisecond), err)
	}

	err := backoff.RetryNotify(operation, newConnectBackOff(ctx, server.Config.MaxConnectionRetries), notify)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func newConnectBackOff(ctx context.Context, maxRetries int) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 10 * time.Second
	bo.RandomizationFactor = 0.5

	var out backoff.BackOff = bo
	if maxRetries >= 0 {
		out = backoff.WithMaxRetries(out, uint64(maxRetries))
	}
	return backoff.WithContext(out, ctx)
}

func driverNameFor(config config.ServerConfig) string {
	if config.DbAzureADAuth != "" {
		return azuread.DriverName
	}
	return "sqlserver"
}

func connectToDb(ctx context.Context, driverName string, connString string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, connString)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Authentication failures and canceled contexts won't go away by retrying
func isRetryableConnectError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) && mssqlErr.Number == loginFailedErrorNumber {
		return false
	}
	return true
}
