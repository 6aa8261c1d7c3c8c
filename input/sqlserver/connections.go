package sqlserver

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

// GetConnections - Counts user sessions per login, status and database
func GetConnections(ctx context.Context, db sqlx.QueryerContext, logger *util.Logger) ([]state.SQLServerConnection, error) {
	connections := []state.SQLServerConnection{}

	err := sqlx.SelectContext(ctx, db, &connections, QueryMarkerSQL+connectionsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "error collecting sys.dm_exec_sessions")
	}

	logger.PrintVerbose("Found %d connection groups", len(connections))

	return connections, nil
}
