package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Figure out if we're self-hosted, on Azure SQL or on RDS, as well as what ID we can use
func identifySystem(config ServerConfig) (systemType string, systemScope string, systemID string) {
	// Allow overrides from config or env variables
	systemType = config.SystemType
	systemScope = config.SystemScope
	systemID = config.SystemID

	dbHost := config.GetDbHost()

	if strings.HasSuffix(dbHost, ".database.windows.net") || systemType == "azure_sql_database" {
		systemType = "azure_sql_database"
		if systemID == "" {
			systemID = strings.TrimSuffix(dbHost, ".database.windows.net")
		}
		if systemScope == "" {
			systemScope = config.GetDbName()
		}
	} else if strings.HasSuffix(dbHost, ".rds.amazonaws.com") || systemType == "amazon_rds" {
		systemType = "amazon_rds"
		parts := strings.Split(dbHost, ".")
		if systemID == "" {
			systemID = parts[0]
		}
		// <instance>.<cluster hash>.<region>.rds.amazonaws.com
		if systemScope == "" && len(parts) >= 6 {
			systemScope = parts[2]
		}
	} else {
		systemType = "self_hosted"
		if systemID == "" {
			systemID = config.Hostname
			if systemID == "" {
				systemID = dbHost
			}
		}
		if systemScope == "" {
			systemScope = fmt.Sprintf("%d/%s", config.GetDbPort(), config.GetDbInstance())
		}
	}
	return
}

// resolveHostname determines the host reported in activity events. Loopback
// connections are reported under the name of the machine the collector runs on.
func resolveHostname(config ServerConfig) string {
	if config.Hostname != "" {
		return config.Hostname
	}

	dbHost := config.GetDbHost()
	if dbHost != "localhost" && dbHost != "127.0.0.1" && dbHost != "::1" && dbHost != "." {
		return dbHost
	}

	info, err := host.Info()
	if err == nil && info.Hostname != "" {
		return info.Hostname
	}
	hostname, err := os.Hostname()
	if err == nil {
		return hostname
	}
	return dbHost
}
