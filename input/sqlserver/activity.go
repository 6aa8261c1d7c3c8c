package sqlserver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/pganalyze/sqlserver-collector/config"
	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

// Format of the watermark literal inside the activity query
const watermarkSQLFormat = "2006-01-02 15:04:05.999999"

// ActivityQueryArgs - Returns the clauses that follow the activity query
//
// Without a watermark all rows get fetched. Once a watermark is set, idle
// transactions (no running request) that began more than collectionInterval
// seconds before it are excluded.
func ActivityQueryArgs(watermark state.ActivityWatermark, collectionInterval float64) string {
	if collectionInterval <= 0 {
		collectionInterval = config.DefaultActivityCollectionInterval
	}
	if !watermark.IsSet() {
		return activityOrderSQL
	}
	exclude := fmt.Sprintf(activityExcludeIdleSQL,
		watermark.LastQueryStart.Time.Format(watermarkSQLFormat),
		strconv.FormatFloat(collectionInterval, 'f', -1, 64))
	return exclude + "\n" + activityOrderSQL
}

// GetActivity - Fetches the open transactions with their sessions and current
// requests, oldest transaction first
func GetActivity(ctx context.Context, db sqlx.QueryerContext, logger *util.Logger, watermark state.ActivityWatermark, collectionInterval float64) ([]*state.ActivityRow, error) {
	query := QueryMarkerSQL + activitySQL + "\n" + ActivityQueryArgs(watermark, collectionInterval)

	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "error collecting sys.dm_tran_active_transactions")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "error reading activity columns")
	}

	var activity []*state.ActivityRow
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, errors.Wrap(err, "error scanning activity row")
		}
		activity = append(activity, state.ActivityRowFromColumns(columns, values))
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error collecting sys.dm_tran_active_transactions")
	}

	logger.PrintVerbose("Fetched %d activity rows", len(activity))

	return activity, nil
}
