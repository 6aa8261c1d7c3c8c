package transform

import (
	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

// ActivityStateToEvent - Builds the event envelope for one poll
func ActivityStateToEvent(server *state.Server, activity state.TransientActivityState) state.ActivityEvent {
	rows := activity.Rows
	if rows == nil {
		rows = []*state.ActivityRow{}
	}
	connections := activity.Connections
	if connections == nil {
		connections = []state.SQLServerConnection{}
	}

	return state.ActivityEvent{
		Host:               server.Config.Hostname,
		AgentVersion:       util.CollectorVersion,
		Source:             "sqlserver",
		DbmType:            "activity",
		CollectionInterval: server.Config.GetActivityCollectionInterval(),
		Tags:               server.Config.GetTags(),
		Timestamp:          float64(activity.CollectedAt.UnixMicro()) / 1e3,
		Activity:           rows,
		Connections:        connections,
	}
}
