package config

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const DefaultActivityCollectionInterval = 10.0

// Maximum estimated size of the activity rows in one event, in bytes
const DefaultActivityPayloadMaxBytes = 19000000

// DefaultMinCollectionInterval - How often the scheduler runs the job loop, in seconds
const DefaultMinCollectionInterval = 15.0

const DefaultDbPort = 1433

type Config struct {
	Servers []ServerConfig
}

type ServerIdentifier struct {
	APIKey      string
	APIBaseURL  string
	SystemID    string
	SystemType  string
	SystemScope string
}

// ServerConfig -
//
//	Contains the information how to connect to a SQL Server instance,
//	and how the activity events for it should be delivered
type ServerConfig struct {
	APIKey     string `ini:"api_key"`
	APIBaseURL string `ini:"api_base_url"`

	ErrorCallback   string `ini:"error_callback"`
	SuccessCallback string `ini:"success_callback"`

	DbURL      string `ini:"db_url"`
	DbHost     string `ini:"db_host"`
	DbPort     int    `ini:"db_port"`
	DbInstance string `ini:"db_instance"`
	DbName     string `ini:"db_name"`
	DbUsername string `ini:"db_username"`
	DbPassword string `ini:"db_password"`

	// Azure AD authentication method passed to the azuread driver as "fedauth",
	// e.g. ActiveDirectoryDefault or ActiveDirectoryManagedIdentity
	DbAzureADAuth string `ini:"db_azure_ad_auth"`

	DbEncrypt                string `ini:"db_encrypt"`
	DbTrustServerCertificate bool   `ini:"db_trust_server_certificate"`

	// How often a failed connection attempt is retried within one poll
	MaxConnectionRetries int `ini:"max_connection_retries"`

	// Overrides the host reported in activity events
	Hostname string `ini:"hostname"`

	// Comma separated list of tags added to every event, e.g. "env:prod,team:db"
	Tags string `ini:"tags"`

	DisableActivity bool `ini:"disable_activity"`

	// Seconds between activity polls, values <= 0 fall back to the default
	ActivityCollectionInterval float64 `ini:"activity_collection_interval"`

	// Run the poll inline in the scheduler loop instead of in a background goroutine
	ActivityRunSync bool `ini:"activity_run_sync"`

	ActivityPayloadMaxBytes int `ini:"activity_payload_max_bytes"`

	MinCollectionInterval float64 `ini:"min_collection_interval"`

	// Statement obfuscation method: "tsql" (default) or "pg_query"
	Obfuscator string `ini:"obfuscator"`

	// Where events get delivered: "http" (default), "websocket", "redis", "local_dir" or "stdout"
	Output            string `ini:"output"`
	LocalDir          string `ini:"local_dir"`
	WebsocketURL      string `ini:"websocket_url"`
	RedisURL          string `ini:"redis_url"`
	RedisStream       string `ini:"redis_stream"`
	RedisStreamMaxLen int64  `ini:"redis_stream_max_len"`

	SectionName string
	Identifier  ServerIdentifier

	SystemID    string `ini:"api_system_id"`
	SystemType  string `ini:"api_system_type"`
	SystemScope string `ini:"api_system_scope"`

	// HTTPClient - Client to be used for API connections
	HTTPClient *http.Client
	// HTTPClientWithRetry - Client with retries enabled to be used for API connections
	HTTPClientWithRetry *http.Client
}

// GetSqlServerConnString - Gets the database configuration as a URL that can be passed to go-mssqldb for connecting
func (config ServerConfig) GetSqlServerConnString(applicationName string) string {
	var u *url.URL

	if config.DbURL != "" {
		var err error
		u, err = url.Parse(config.DbURL)
		if err != nil {
			u = nil
		}
	}
	if u == nil {
		u = &url.URL{Scheme: "sqlserver"}
	}

	query := u.Query()

	if config.DbUsername != "" || config.DbPassword != "" {
		username := config.DbUsername
		if username == "" && u.User != nil {
			username = u.User.Username()
		}
		if config.DbPassword != "" {
			u.User = url.UserPassword(username, config.DbPassword)
		} else if u.User != nil {
			if password, ok := u.User.Password(); ok {
				u.User = url.UserPassword(username, password)
			} else {
				u.User = url.User(username)
			}
		} else {
			u.User = url.User(username)
		}
	}

	u.Host = net.JoinHostPort(config.GetDbHost(), strconv.Itoa(config.GetDbPort()))
	if instance := config.GetDbInstance(); instance != "" {
		u.Path = "/" + instance
	}
	if dbName := config.GetDbName(); dbName != "" {
		query.Set("database", dbName)
	}
	if config.DbEncrypt != "" {
		query.Set("encrypt", config.DbEncrypt)
	}
	if config.DbTrustServerCertificate {
		query.Set("TrustServerCertificate", "true")
	}
	if config.DbAzureADAuth != "" {
		query.Set("fedauth", config.DbAzureADAuth)
	}
	if applicationName != "" {
		query.Set("app name", applicationName)
	}
	u.RawQuery = query.Encode()

	return u.String()
}

// GetDbHost - Gets the database hostname from the given configuration
func (config ServerConfig) GetDbHost() string {
	if config.DbHost != "" {
		return config.DbHost
	}
	if config.DbURL != "" {
		u, err := url.Parse(config.DbURL)
		if err == nil {
			return u.Hostname()
		}
	}

	return "localhost"
}

// GetDbPort - Gets the database port from the given configuration
func (config ServerConfig) GetDbPort() int {
	if config.DbPort != 0 {
		return config.DbPort
	}
	if config.DbURL != "" {
		u, err := url.Parse(config.DbURL)
		if err == nil && u.Port() != "" {
			port, _ := strconv.Atoi(u.Port())
			return port
		}
	}

	return DefaultDbPort
}

// GetDbInstance - Gets the named instance (e.g. SQLEXPRESS) from the given configuration
func (config ServerConfig) GetDbInstance() string {
	if config.DbInstance != "" {
		return config.DbInstance
	}
	if config.DbURL != "" {
		u, err := url.Parse(config.DbURL)
		if err == nil && len(u.Path) > 1 {
			return u.Path[1:]
		}
	}

	return ""
}

// GetDbUsername - Gets the database username from the given configuration
func (config ServerConfig) GetDbUsername() string {
	if config.DbUsername != "" {
		return config.DbUsername
	}
	if config.DbURL != "" {
		u, _ := url.Parse(config.DbURL)
		if u != nil && u.User != nil {
			return u.User.Username()
		}
	}

	return ""
}

// GetDbName - Gets the database name from the given configuration
func (config ServerConfig) GetDbName() string {
	if config.DbName != "" {
		return config.DbName
	}
	if config.DbURL != "" {
		u, err := url.Parse(config.DbURL)
		if err == nil {
			return u.Query().Get("database")
		}
	}

	return ""
}

// GetDbURLRedacted - Gets the database URL without the password, for use in log output
func (config ServerConfig) GetDbURLRedacted() string {
	if config.DbURL == "" {
		return ""
	}
	u, err := url.Parse(config.DbURL)
	if err != nil {
		return "<unparsable>"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

// GetTags - Gets the configured event tags
func (config ServerConfig) GetTags() []string {
	tags := []string{}
	for _, tag := range strings.Split(config.Tags, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// GetActivityCollectionInterval - Seconds between activity polls
func (config ServerConfig) GetActivityCollectionInterval() float64 {
	if config.ActivityCollectionInterval <= 0 {
		return DefaultActivityCollectionInterval
	}
	return config.ActivityCollectionInterval
}

func (config ServerConfig) GetActivityPayloadMaxBytes() int {
	if config.ActivityPayloadMaxBytes <= 0 {
		return DefaultActivityPayloadMaxBytes
	}
	return config.ActivityPayloadMaxBytes
}

func (config ServerConfig) GetMinCollectionInterval() float64 {
	if config.MinCollectionInterval <= 0 {
		return DefaultMinCollectionInterval
	}
	return config.MinCollectionInterval
}
