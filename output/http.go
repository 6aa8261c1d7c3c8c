package output

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"

	"github.com/pganalyze/sqlserver-collector/state"
	"github.com/pganalyze/sqlserver-collector/util"
)

const activityPath = "/v2/sqlserver/activity"

type httpSink struct {
	server  *state.Server
	logger  *util.Logger
	client  *http.Client
	testRun bool
}

func newHTTPSink(server *state.Server, opts state.CollectionOpts, logger *util.Logger) *httpSink {
	client := server.Config.HTTPClientWithRetry
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSink{server: server, logger: logger, client: client, testRun: opts.TestRun}
}

func compressPayload(payload []byte) ([]byte, error) {
	var compressedData bytes.Buffer
	w := zlib.NewWriter(&compressedData)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return compressedData.Bytes(), nil
}

func (s *httpSink) Send(ctx context.Context, payload []byte, collectedAt time.Time) error {
	requestID, err := uuid.NewV7()
	if err != nil {
		return err
	}

	data, err := compressPayload(payload)
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(s.server.Config.APIBaseURL, "/") + activityPath
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return err
	}

	setIdentityHeaders(req.Header, s.server)
	req.Header.Set("Pganalyze-Request-Id", requestID.String())
	req.Header.Set("Pganalyze-Collected-At", collectedAt.UTC().Format(time.RFC3339Nano))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "deflate")
	req.Header.Add("Accept", "application/json,text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return util.CleanHTTPError(err)
	}

	msg, err := parseSubmitResponse(resp, s.testRun)
	if err != nil {
		return err
	}
	if msg != "" {
		s.logger.PrintInfo("  %s", msg)
	}

	s.logger.PrintVerbose("Submitted activity event %s (%d bytes compressed)", requestID, len(data))
	return nil
}

func (s *httpSink) Close() error {
	return nil
}
