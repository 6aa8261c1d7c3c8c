package runner

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pganalyze/sqlserver-collector/config"
	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

type recordingSink struct {
	mutex    sync.Mutex
	payloads []string
}

func (s *recordingSink) Send(ctx context.Context, payload []byte, collectedAt time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.payloads = append(s.payloads, string(payload))
	return nil
}

func (s *recordingSink) Close() error {
	return nil
}

func testLogger() *util.Logger {
	return &util.Logger{Destination: log.New(&bytes.Buffer{}, "", 0)}
}

var submitOpts = state.CollectionOpts{SubmitCollectedData: true}

func mockConnect(t *testing.T) (connectFunc, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	connect := func(ctx context.Context, server *state.Server, logger *util.Logger, opts state.CollectionOpts) (*sqlx.DB, error) {
		return sqlx.NewDb(db, "sqlmock"), nil
	}
	return connect, mock
}

func testTarget(cfg config.ServerConfig) (ActivityServer, *recordingSink) {
	sink := &recordingSink{}
	if cfg.SectionName == "" {
		cfg.SectionName = "server1"
	}
	return ActivityServer{Server: state.MakeServer(cfg), Sink: sink, Obfuscator: util.TSQLObfuscator{}}, sink
}

var (
	beginTime = time.Date(2021, 3, 1, 11, 59, 0, 0, time.UTC)
	startTime = time.Date(2021, 3, 1, 11, 59, 30, 0, time.UTC)
)

func expectConnections(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`is_user_process = 1`).WillReturnRows(
		sqlmock.NewRows([]string{"user_name", "connections", "status", "database_name"}).
			AddRow("app", int64(2), "running", "shop"))
}

func activityColumns() []string {
	return []string{"transaction_begin_time", "status", "text", "session_id", "start_time", "query_hash"}
}

func TestProcessActivityForServer(t *testing.T) {
	connect, mock := mockConnect(t)
	target, sink := testTarget(config.ServerConfig{Hostname: "db1"})

	expectConnections(mock)
	mock.ExpectQuery(`sys\.dm_tran_active_transactions`).WillReturnRows(
		sqlmock.NewRows(activityColumns()).
			AddRow(beginTime, "running", "SELECT * FROM orders WHERE id = 5", int64(51), startTime, []byte{0x01, 0xab}).
			AddRow(beginTime.Add(time.Second), "sleeping", "SELECT 1", nil, nil, nil))
	mock.ExpectClose()

	newState, success, err := processActivityForServer(context.Background(), target, submitOpts, testLogger(), nil, connect)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, mock.ExpectationsWereMet())

	require.True(t, newState.Watermark.IsSet())
	require.Equal(t, startTime, newState.Watermark.LastQueryStart.Time)
	require.False(t, newState.ActivitySnapshotAt.IsZero())

	// The state on the server only changes once the caller commits it
	require.False(t, target.Server.ActivityPrevState.Watermark.IsSet())

	require.Len(t, sink.payloads, 1)
	payload := sink.payloads[0]
	require.Contains(t, payload, `"text":"SELECT * FROM orders WHERE id = ?"`)
	require.Contains(t, payload, `"query_hash":"01ab"`)
	require.Contains(t, payload, `"query_signature":"`)
	require.Contains(t, payload, `"sqlserver_connections":[{"user_name":"app","connections":2,"status":"running","database_name":"shop"}]`)
	require.NotContains(t, payload, "sleeping")
}

func TestProcessActivityUsesWatermark(t *testing.T) {
	connect, mock := mockConnect(t)
	target, sink := testTarget(config.ServerConfig{})
	target.Server.ActivityPrevState.Watermark.Advance(startTime)

	expectConnections(mock)
	mock.ExpectQuery(`WHERE NOT \(r\.session_id IS NULL AND DATEDIFF\(second, at\.transaction_begin_time, '2021-03-01 11:59:30'\) > 10\)`).WillReturnRows(
		sqlmock.NewRows(activityColumns()).
			AddRow(beginTime, "sleeping", "COMMIT", nil, nil, nil))
	mock.ExpectClose()

	newState, success, err := processActivityForServer(context.Background(), target, submitOpts, testLogger(), nil, connect)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, startTime, newState.Watermark.LastQueryStart.Time)

	// Idle rows are only suppressed on the first poll
	require.Len(t, sink.payloads, 1)
	require.Contains(t, sink.payloads[0], `"status":"sleeping"`)
}

func TestCollectActivityFetchErrorKeepsWatermark(t *testing.T) {
	connect, mock := mockConnect(t)
	target, sink := testTarget(config.ServerConfig{})
	target.Server.ActivityPrevState.Watermark.Advance(startTime)

	expectConnections(mock)
	mock.ExpectQuery(`sys\.dm_tran_active_transactions`).WillReturnError(errors.New("deadlock victim"))

	registry := prometheus.NewRegistry()
	metrics := util.NewActivityMetrics(registry)

	success := collectActivityFromAllServers(context.Background(), []ActivityServer{target}, submitOpts, testLogger(), metrics, connect)
	require.False(t, success)
	require.Empty(t, sink.payloads)
	require.Equal(t, startTime, target.Server.ActivityPrevState.Watermark.LastQueryStart.Time)

	expected := `
# HELP sqlserver_activity_errors_total Number of activity polls that failed
# TYPE sqlserver_activity_errors_total counter
sqlserver_activity_errors_total{server="server1"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "sqlserver_activity_errors_total"))
}

func TestProcessActivitySuppressesParkedTransactionsOnFirstPoll(t *testing.T) {
	connect, mock := mockConnect(t)
	target, sink := testTarget(config.ServerConfig{})

	// The request columns repeat status and session_id, and are null for parked transactions
	columns := []string{"transaction_begin_time", "status", "text", "session_id", "start_time", "status", "session_id"}
	expectConnections(mock)
	mock.ExpectQuery(`sys\.dm_tran_active_transactions`).WillReturnRows(
		sqlmock.NewRows(columns).
			AddRow(beginTime, "sleeping", "UPDATE orders SET paid = 1", int64(53), nil, nil, nil).
			AddRow(beginTime.Add(time.Second), "running", "SELECT 1", int64(51), startTime, "suspended", int64(51)))
	mock.ExpectClose()

	_, success, err := processActivityForServer(context.Background(), target, submitOpts, testLogger(), nil, connect)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, sink.payloads, 1)
	require.NotContains(t, sink.payloads[0], `"session_id":53`)
	require.NotContains(t, sink.payloads[0], "sleeping")
	require.Contains(t, sink.payloads[0], `"status":"suspended"`)
}

func TestProcessActivityRecordsTruncatedRows(t *testing.T) {
	connect, mock := mockConnect(t)
	target, sink := testTarget(config.ServerConfig{ActivityPayloadMaxBytes: 1})

	expectConnections(mock)
	mock.ExpectQuery(`sys\.dm_tran_active_transactions`).WillReturnRows(
		sqlmock.NewRows(activityColumns()).
			AddRow(beginTime, "running", "SELECT 1", int64(51), startTime, nil).
			AddRow(beginTime, "running", "SELECT 2", int64(52), startTime, nil))
	mock.ExpectClose()

	registry := prometheus.NewRegistry()
	metrics := util.NewActivityMetrics(registry)

	_, success, err := processActivityForServer(context.Background(), target, submitOpts, testLogger(), metrics, connect)
	require.NoError(t, err)
	require.True(t, success)
	require.Len(t, sink.payloads, 1)
	require.Contains(t, sink.payloads[0], `"sqlserver_activity":[]`)

	expected := `
# HELP sqlserver_activity_rows_total Number of activity rows by outcome
# TYPE sqlserver_activity_rows_total counter
sqlserver_activity_rows_total{outcome="fetched",server="server1"} 2
sqlserver_activity_rows_total{outcome="truncated",server="server1"} 2
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "sqlserver_activity_rows_total"))
}

func TestCollectActivityCommitsState(t *testing.T) {
	connect, mock := mockConnect(t)
	target, _ := testTarget(config.ServerConfig{})

	expectConnections(mock)
	mock.ExpectQuery(`sys\.dm_tran_active_transactions`).WillReturnRows(
		sqlmock.NewRows(activityColumns()).
			AddRow(beginTime, "running", "SELECT 1", int64(51), startTime, nil))
	mock.ExpectClose()

	success := collectActivityFromAllServers(context.Background(), []ActivityServer{target}, submitOpts, testLogger(), nil, connect)
	require.True(t, success)
	require.Equal(t, startTime, target.Server.ActivityPrevState.Watermark.LastQueryStart.Time)
}

func TestCollectActivitySkipsDisabledServers(t *testing.T) {
	var calls int32
	connect := func(ctx context.Context, server *state.Server, logger *util.Logger, opts state.CollectionOpts) (*sqlx.DB, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("unexpected connection")
	}
	target, _ := testTarget(config.ServerConfig{DisableActivity: true})

	success := collectActivityFromAllServers(context.Background(), []ActivityServer{target}, submitOpts, testLogger(), nil, connect)
	require.True(t, success)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCollectActivityConnectError(t *testing.T) {
	connect := func(ctx context.Context, server *state.Server, logger *util.Logger, opts state.CollectionOpts) (*sqlx.DB, error) {
		return nil, errors.New("login failed")
	}
	target, sink := testTarget(config.ServerConfig{})

	success := collectActivityFromAllServers(context.Background(), []ActivityServer{target}, submitOpts, testLogger(), nil, connect)
	require.False(t, success)
	require.Empty(t, sink.payloads)
	require.False(t, target.Server.ActivityPrevState.Watermark.IsSet())
}
