package sqlserver

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/guregu/null"
	"github.com/jmoiron/sqlx"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/require"

	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

func newTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func testLogger() *util.Logger {
	return &util.Logger{Destination: log.New(&bytes.Buffer{}, "", 0)}
}

func TestActivityQueryArgs(t *testing.T) {
	var unset state.ActivityWatermark
	require.Equal(t, "ORDER BY at.transaction_begin_time ASC", ActivityQueryArgs(unset, 10))

	var watermark state.ActivityWatermark
	watermark.Advance(time.Date(2021, 1, 1, 10, 0, 0, 123456000, time.UTC))
	require.Equal(t,
		"WHERE NOT (r.session_id IS NULL AND DATEDIFF(second, at.transaction_begin_time, '2021-01-01 10:00:00.123456') > 10)\n"+
			"ORDER BY at.transaction_begin_time ASC",
		ActivityQueryArgs(watermark, 10))

	require.Contains(t, ActivityQueryArgs(watermark, 2.5), "> 2.5)")

	// Non-positive intervals fall back to the default
	require.Contains(t, ActivityQueryArgs(watermark, 0), "> 10)")
}

func TestGetConnections(t *testing.T) {
	db, mock := newTestDB(t)

	rows := sqlmock.NewRows([]string{"user_name", "connections", "status", "database_name"}).
		AddRow("sa", int64(3), "sleeping", "master").
		AddRow("app", int64(1), "running", nil)
	mock.ExpectQuery(QueryMarkerSQL + connectionsSQL).WillReturnRows(rows)

	connections, err := GetConnections(context.Background(), db, testLogger())
	require.NoError(t, err)
	require.Equal(t, []state.SQLServerConnection{
		{UserName: null.StringFrom("sa"), ConnectionCount: 3, Status: null.StringFrom("sleeping"), DatabaseName: null.StringFrom("master")},
		{UserName: null.StringFrom("app"), ConnectionCount: 1, Status: null.StringFrom("running")},
	}, connections)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConnectionsEmpty(t *testing.T) {
	db, mock := newTestDB(t)

	mock.ExpectQuery(QueryMarkerSQL + connectionsSQL).
		WillReturnRows(sqlmock.NewRows([]string{"user_name", "connections", "status", "database_name"}))

	connections, err := GetConnections(context.Background(), db, testLogger())
	require.NoError(t, err)
	require.Empty(t, connections)
}

func TestGetConnectionsError(t *testing.T) {
	db, mock := newTestDB(t)

	mock.ExpectQuery(QueryMarkerSQL + connectionsSQL).WillReturnError(errors.New("permission denied"))

	_, err := GetConnections(context.Background(), db, testLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "permission denied")
}

func TestGetActivity(t *testing.T) {
	db, mock := newTestDB(t)

	begin := time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC)
	start := time.Date(2021, 1, 1, 10, 0, 1, 0, time.UTC)
	// The request columns repeat session_id and status from the session
	columns := []string{"transaction_begin_time", "user_name", "status", "text", "session_id", "start_time", "status", "session_id", "query_hash"}
	rows := sqlmock.NewRows(columns).
		AddRow(begin, "sa", "running", "SELECT 1", int64(52), start, "suspended", int64(52), []byte{0xde, 0xad}).
		AddRow(begin, "app", "sleeping", "SELECT 2", int64(53), nil, nil, nil, nil)

	var watermark state.ActivityWatermark
	mock.ExpectQuery(QueryMarkerSQL + activitySQL + "\n" + ActivityQueryArgs(watermark, 10)).WillReturnRows(rows)

	activity, err := GetActivity(context.Background(), db, testLogger(), watermark, 10)
	require.NoError(t, err)
	require.Len(t, activity, 2)

	require.Equal(t, []string{"transaction_begin_time", "user_name", "status", "text", "session_id", "start_time", "query_hash"}, activity[0].Keys())
	status, _ := activity[0].GetString("status")
	require.Equal(t, "suspended", status)
	startTime, ok := activity[0].GetTime("start_time")
	require.True(t, ok)
	require.Equal(t, start, startTime)
	sessionID, _ := activity[0].Get("session_id")
	require.Equal(t, state.IntValue(52), sessionID)

	// Second row has no request, the null request columns keep the session values
	status2, ok := activity[1].GetString("status")
	require.True(t, ok)
	require.Equal(t, "sleeping", status2)
	sessionID2, _ := activity[1].Get("session_id")
	require.Equal(t, state.IntValue(53), sessionID2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActivityError(t *testing.T) {
	db, mock := newTestDB(t)

	var watermark state.ActivityWatermark
	watermark.Advance(time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC))
	mock.ExpectQuery(QueryMarkerSQL + activitySQL + "\n" + ActivityQueryArgs(watermark, 10)).
		WillReturnError(errors.New("connection reset"))

	activity, err := GetActivity(context.Background(), db, testLogger(), watermark, 10)
	require.Error(t, err)
	require.Nil(t, activity)
}

func TestIsRetryableConnectError(t *testing.T) {
	require.True(t, isRetryableConnectError(errors.New("dial tcp: connection refused")))
	require.False(t, isRetryableConnectError(context.Canceled))
	require.False(t, isRetryableConnectError(mssql.Error{Number: loginFailedErrorNumber, Message: "Login failed for user 'x'."}))
}
