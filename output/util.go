package output

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"strings"
)

// parseSubmitResponse checks the status of a submission, and returns the
// message the server included for test runs
func parseSubmitResponse(resp *http.Response, testRun bool) (msg string, err error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("error when submitting activity event (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !testRun {
		// we only care about the response body in test runs, so don't bother parsing otherwise
		return "", nil
	}

	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return strings.TrimSpace(string(body)), nil
	}

	if contentType != "application/json" {
		return strings.TrimSpace(string(body)), nil
	}

	var jsonBody struct {
		Message string `json:"message"`
	}
	err = json.Unmarshal(body, &jsonBody)
	if err != nil {
		return "", fmt.Errorf("error decoding response: %s", err)
	}

	return jsonBody.Message, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
