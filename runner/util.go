package runner

import (
	"os"
	"os/exec"

	"github.com/pganalyze/sqlserver-collector/util"
)

// runCompletionCallback runs the configured shell command after a poll, passing
// the outcome through environment variables
func runCompletionCallback(callbackType string, callbackCmd string, sectionName string, snapshotType string, errIn error, logger *util.Logger) {
	cmd := exec.Command("sh", "-c", callbackCmd)
	cmd.Env = append(os.Environ(),
		"PGA_CALLBACK_TYPE="+callbackType,
		"PGA_CONFIG_SECTION="+sectionName,
		"PGA_SNAPSHOT_TYPE="+snapshotType,
	)
	if errIn != nil {
		cmd.Env = append(cmd.Env, "PGA_ERROR_MESSAGE="+errIn.Error())
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.PrintError("Could not run %s callback (%s): %s", callbackType, snapshotType, err)
		if len(out) > 0 {
			logger.PrintError("  Output: %s", out)
		}
	}
}
