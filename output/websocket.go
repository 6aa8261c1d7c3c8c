package output

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

// How long to wait before reconnecting after the server rejected us with a 4xx status
const websocketClientErrorTimeout = 10 * time.Minute

type websocketSink struct {
	socket *util.ReconnectingSocket
}

func newWebsocketSink(server *state.Server, logger *util.Logger) *websocketSink {
	headers := http.Header{}
	setIdentityHeaders(headers, server)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
	}
	return &websocketSink{
		socket: util.NewReconnectingSocket(logger, dialer, server.Config.WebsocketURL, headers, websocketClientErrorTimeout),
	}
}

// The payload is sent zlib-compressed, as one binary message per event
func (s *websocketSink) Send(ctx context.Context, payload []byte, collectedAt time.Time) error {
	data, err := compressPayload(payload)
	if err != nil {
		return err
	}
	return s.socket.Send(ctx, data)
}

func (s *websocketSink) Close() error {
	s.socket.Close()
	return nil
}
