package output

import (
	"context"
	"fmt"
	"time"

	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

// Sink - Delivers one serialized activity event
type Sink interface {
	Send(ctx context.Context, payload []byte, collectedAt time.Time) error
	Close() error
}

// NewSink returns the sink configured by the server's "output" setting
func NewSink(server *state.Server, opts state.CollectionOpts, logger *util.Logger) (Sink, error) {
	switch server.Config.Output {
	case "", "http":
		return newHTTPSink(server, opts, logger), nil
	case "websocket":
		return newWebsocketSink(server, logger), nil
	case "redis":
		return newRedisSink(server, logger)
	case "local_dir":
		return newLocalDirSink(server.Config.LocalDir, logger)
	case "stdout":
		return newWriterSink(stdout), nil
	}
	return nil, fmt.Errorf("unsupported output: %s", server.Config.Output)
}

func setIdentityHeaders(headers map[string][]string, server *state.Server) {
	headers["Pganalyze-Api-Key"] = []string{server.Config.APIKey}
	headers["Pganalyze-System-Id"] = []string{server.Config.SystemID}
	headers["Pganalyze-System-Type"] = []string{server.Config.SystemType}
	headers["Pganalyze-System-Scope"] = []string{server.Config.SystemScope}
	headers["User-Agent"] = []string{util.CollectorNameAndVersion}
}
