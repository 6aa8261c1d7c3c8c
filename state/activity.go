package state

import (
	"time"

	"github.com/guregu/null"
)

// ActivityWatermark - Newest request start time seen across all polls
//
// Used to restrict which idle transactions get fetched again on the next poll.
// Once set it only ever moves forward.
type ActivityWatermark struct {
	LastQueryStart null.Time
}

func (w ActivityWatermark) IsSet() bool {
	return w.LastQueryStart.Valid
}

// Advance moves the watermark to t if it is unset or t is newer, and reports whether it moved
func (w *ActivityWatermark) Advance(t time.Time) bool {
	if w.LastQueryStart.Valid && !t.After(w.LastQueryStart.Time) {
		return false
	}
	w.LastQueryStart = null.TimeFrom(t)
	return true
}

// PersistedActivityState - State thats kept across activity polls
type PersistedActivityState struct {
	Watermark          ActivityWatermark
	ActivitySnapshotAt time.Time
}

// TransientActivityState - State thats only used within one activity poll
type TransientActivityState struct {
	CollectedAt time.Time

	Rows        []*ActivityRow
	Connections []SQLServerConnection

	// Number of fetched rows, before filtering and truncation
	FetchedRows int
}

// SQLServerConnection - Number of user sessions per login, status and database
type SQLServerConnection struct {
	UserName        null.String `db:"user_name" json:"user_name"`
	ConnectionCount int64       `db:"connections" json:"connections"`
	Status          null.String `db:"status" json:"status"`
	DatabaseName    null.String `db:"database_name" json:"database_name"`
}

// ActivityEvent - Envelope that gets sent to the backend once per poll
type ActivityEvent struct {
	Host               string                `json:"host"`
	AgentVersion       string                `json:"ddagentversion"`
	Source             string                `json:"ddsource"`
	DbmType            string                `json:"dbm_type"`
	CollectionInterval float64               `json:"collection_interval"`
	Tags               []string              `json:"ddtags"`
	Timestamp          float64               `json:"timestamp"`
	Activity           []*ActivityRow        `json:"sqlserver_activity"`
	Connections        []SQLServerConnection `json:"sqlserver_connections"`
}
