package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/pganalyze/sqlserver-collector/output/transform"
	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

// SubmitActivityEvent - Serializes the activity of one poll and hands it to the sink
//
// When data submission is turned off (dry run), the event is only logged, or
// printed as JSON if requested.
func SubmitActivityEvent(ctx context.Context, server *state.Server, opts state.CollectionOpts, logger *util.Logger, sink Sink, activity state.TransientActivityState) error {
	event := transform.ActivityStateToEvent(server, activity)

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "error serializing activity event")
	}

	if !opts.SubmitCollectedData {
		if opts.OutputAsJson {
			debugOutputAsJSON(payload)
		} else {
			logger.PrintInfo("Collected activity event successfully (%d rows, %d connection groups)", len(event.Activity), len(event.Connections))
		}
		return nil
	}

	err = sink.Send(ctx, payload, activity.CollectedAt)
	if err != nil {
		return err
	}

	server.RecordSubmission("activity", len(event.Activity))
	return nil
}

func debugOutputAsJSON(payload []byte) {
	var out bytes.Buffer
	err := json.Indent(&out, payload, "", "  ")
	if err != nil {
		out.Reset()
		out.Write(payload)
	}
	fmt.Fprintf(stdout, "%s\n", out.Bytes())
}

// LogSubmitStats - Logs a summary of the events submitted since the last call
func LogSubmitStats(server *state.Server, logger *util.Logger) {
	stats, since := server.TakeSubmitStats()
	if since.IsZero() || len(stats) == 0 {
		return
	}
	details := ""
	for i, kind := range sortedKeys(stats) {
		details += fmt.Sprintf("%d %s", stats[kind], kind)
		if i < len(stats)-1 {
			details += ", "
		}
	}
	logger.PrintInfo("Submitted since %s: %s", since.Format("15:04"), details)
}
