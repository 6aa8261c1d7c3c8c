package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-ini/ini"

	"github.com/pganalyze/sqlserver-collector/util"
)

const DefaultAPIBaseURL = "https://api.pganalyze.com"

// Name of the INI section whose values apply to all server sections
const DefaultsSectionName = "collector"

var validOutputs = []string{"http", "websocket", "redis", "local_dir", "stdout"}

var validObfuscators = []string{"tsql", "pg_query"}

func getDefaultConfig() *ServerConfig {
	config := &ServerConfig{
		APIBaseURL:                 DefaultAPIBaseURL,
		SectionName:                "default",
		ActivityCollectionInterval: DefaultActivityCollectionInterval,
		ActivityPayloadMaxBytes:    DefaultActivityPayloadMaxBytes,
		MinCollectionInterval:      DefaultMinCollectionInterval,
		MaxConnectionRetries:       3,
		Obfuscator:                 "tsql",
		Output:                     "http",
		RedisStream:                "sqlserver_activity",
		RedisStreamMaxLen:          10000,
	}

	// The environment variables are the default way to configure when running inside a Docker container.
	if apiKey := os.Getenv("COLLECTOR_API_KEY"); apiKey != "" {
		config.APIKey = apiKey
	}
	if apiBaseURL := os.Getenv("COLLECTOR_API_BASEURL"); apiBaseURL != "" {
		config.APIBaseURL = apiBaseURL
	}
	if systemID := os.Getenv("COLLECTOR_API_SYSTEM_ID"); systemID != "" {
		config.SystemID = systemID
	}
	if systemType := os.Getenv("COLLECTOR_API_SYSTEM_TYPE"); systemType != "" {
		config.SystemType = systemType
	}
	if systemScope := os.Getenv("COLLECTOR_API_SYSTEM_SCOPE"); systemScope != "" {
		config.SystemScope = systemScope
	}
	if dbURL := os.Getenv("DB_URL"); dbURL != "" {
		config.DbURL = dbURL
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		config.DbHost = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		config.DbPort, _ = strconv.Atoi(dbPort)
	}
	if dbInstance := os.Getenv("DB_INSTANCE"); dbInstance != "" {
		config.DbInstance = dbInstance
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		config.DbName = dbName
	}
	if dbUsername := os.Getenv("DB_USERNAME"); dbUsername != "" {
		config.DbUsername = dbUsername
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		config.DbPassword = dbPassword
	}
	if dbAzureADAuth := os.Getenv("DB_AZURE_AD_AUTH"); dbAzureADAuth != "" {
		config.DbAzureADAuth = dbAzureADAuth
	}
	if dbEncrypt := os.Getenv("DB_ENCRYPT"); dbEncrypt != "" {
		config.DbEncrypt = dbEncrypt
	}
	if trustServerCert := os.Getenv("DB_TRUST_SERVER_CERTIFICATE"); trustServerCert != "" && trustServerCert != "0" {
		config.DbTrustServerCertificate = true
	}
	if hostname := os.Getenv("COLLECTOR_HOSTNAME"); hostname != "" {
		config.Hostname = hostname
	}
	if tags := os.Getenv("COLLECTOR_TAGS"); tags != "" {
		config.Tags = tags
	}
	if disableActivity := os.Getenv("DISABLE_ACTIVITY"); disableActivity != "" && disableActivity != "0" {
		config.DisableActivity = true
	}
	if interval := os.Getenv("ACTIVITY_COLLECTION_INTERVAL"); interval != "" {
		config.ActivityCollectionInterval, _ = strconv.ParseFloat(interval, 64)
	}
	if runSync := os.Getenv("ACTIVITY_RUN_SYNC"); runSync != "" && runSync != "0" {
		config.ActivityRunSync = true
	}
	if maxBytes := os.Getenv("ACTIVITY_PAYLOAD_MAX_BYTES"); maxBytes != "" {
		config.ActivityPayloadMaxBytes, _ = strconv.Atoi(maxBytes)
	}
	if obfuscator := os.Getenv("COLLECTOR_OBFUSCATOR"); obfuscator != "" {
		config.Obfuscator = obfuscator
	}
	if output := os.Getenv("COLLECTOR_OUTPUT"); output != "" {
		config.Output = output
	}
	if localDir := os.Getenv("COLLECTOR_LOCAL_DIR"); localDir != "" {
		config.LocalDir = localDir
	}
	if websocketURL := os.Getenv("COLLECTOR_WEBSOCKET_URL"); websocketURL != "" {
		config.WebsocketURL = websocketURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}
	if redisStream := os.Getenv("REDIS_STREAM"); redisStream != "" {
		config.RedisStream = redisStream
	}

	return config
}

func preprocessConfig(config *ServerConfig) (*ServerConfig, error) {
	config.Obfuscator = strings.ToLower(strings.TrimSpace(config.Obfuscator))
	if config.Obfuscator == "" {
		config.Obfuscator = "tsql"
	}
	if !util.SliceContains(validObfuscators, config.Obfuscator) {
		return config, fmt.Errorf("Unsupported obfuscator \"%s\", valid choices are: %s", config.Obfuscator, strings.Join(validObfuscators, ", "))
	}

	config.Output = strings.ToLower(strings.TrimSpace(config.Output))
	if config.Output == "" {
		config.Output = "http"
	}
	if !util.SliceContains(validOutputs, config.Output) {
		return config, fmt.Errorf("Unsupported output \"%s\", valid choices are: %s", config.Output, strings.Join(validOutputs, ", "))
	}
	switch config.Output {
	case "websocket":
		if config.WebsocketURL == "" {
			return config, fmt.Errorf("Output \"websocket\" requires websocket_url to be set")
		}
	case "redis":
		if config.RedisURL == "" {
			return config, fmt.Errorf("Output \"redis\" requires redis_url to be set")
		}
	case "local_dir":
		if config.LocalDir == "" {
			return config, fmt.Errorf("Output \"local_dir\" requires local_dir to be set")
		}
	}

	if config.MaxConnectionRetries < 0 {
		config.MaxConnectionRetries = 0
	}

	config.Hostname = resolveHostname(*config)
	config.SystemType, config.SystemScope, config.SystemID = identifySystem(*config)
	config.Identifier = ServerIdentifier{
		APIKey:      config.APIKey,
		APIBaseURL:  config.APIBaseURL,
		SystemID:    config.SystemID,
		SystemType:  config.SystemType,
		SystemScope: config.SystemScope,
	}

	return config, nil
}

func isServerSection(config *ServerConfig, sectionName string) bool {
	if sectionName == ini.DefaultSection || sectionName == DefaultsSectionName {
		return false
	}
	return config.DbHost != "" || config.DbURL != ""
}

// Read - Reads the configuration from the specified filename, or fall back to the default config
func Read(logger *util.Logger, filename string) (Config, error) {
	var conf Config
	var err error

	if _, err = os.Stat(filename); err == nil {
		configFile, err := ini.Load(filename)
		if err != nil {
			return conf, err
		}

		defaultConfig := getDefaultConfig()

		err = configFile.Section(DefaultsSectionName).MapTo(defaultConfig)
		if err != nil {
			logger.PrintVerbose("Failed to map %s section: %s", DefaultsSectionName, err)
		}

		sections := configFile.Sections()
		for _, section := range sections {
			config := &ServerConfig{}
			*config = *defaultConfig

			err = section.MapTo(config)
			if err != nil {
				return conf, err
			}

			if !isServerSection(config, section.Name()) {
				continue
			}

			config.SectionName = section.Name()
			config, err = preprocessConfig(config)
			if err != nil {
				return conf, fmt.Errorf("Config section %s: %s", section.Name(), err)
			}

			// Ensure we have no duplicate identifiers within one collector
			skip := false
			for _, server := range conf.Servers {
				if config.Identifier == server.Identifier {
					skip = true
				}
			}
			if skip {
				logger.PrintError("Skipping config section %s, detected as duplicate", config.SectionName)
			} else {
				conf.Servers = append(conf.Servers, *config)
			}
		}

		if len(conf.Servers) == 0 {
			return conf, fmt.Errorf("Configuration file is empty, please edit %s and reload the collector", filename)
		}
	} else {
		if os.Getenv("DB_HOST") != "" || os.Getenv("DB_URL") != "" {
			config, err := preprocessConfig(getDefaultConfig())
			if err != nil {
				return conf, err
			}
			conf.Servers = append(conf.Servers, *config)
		} else {
			return conf, fmt.Errorf("No configuration file found at %s, and no environment variables set", filename)
		}
	}

	return conf, nil
}
