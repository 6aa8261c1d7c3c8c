package util

import (
	"errors"
	"fmt"
	"regexp"
)

var httpMethodRegexp = regexp.MustCompile("(?i): (get|post|put|patch) ")

// CleanHTTPError removes the duplicate method and URL prefixes retryablehttp adds to errors
func CleanHTTPError(err error) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf("%v", err)
	parts := httpMethodRegexp.Split(message, -1)
	return errors.New(parts[len(parts)-1])
}
