// Package settings holds the environment-driven process configuration.
package settings

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the resolved configuration for one process. It is read once at
// startup and treated as immutable afterwards.
type Settings struct {
	// Path to the reporting catalogue document.
	ConfigFile string

	// Graph database connection.
	Neo4jURI                   string
	Neo4jUser                  string
	Neo4jPassword              string
	Neo4jMaxConnectionLifetime time.Duration

	// Scheduled-query worker.
	EnableScheduledQueries  bool
	ScheduledQueryFrequency time.Duration
	ScheduledQueryModules   []string
	EngineName              string

	// sqs action handler.
	SQSURL          string
	SQSCreateQueues bool

	// slack action handler.
	SlackBotToken string

	// mqtt action handler.
	MQTTURL string

	// Dashboard stats emitter.
	StatsdHost               string
	StatsdPort               int
	StatsdConstantTags       []string
	DashboardStatsFrequency  time.Duration
	DashboardStatsMaxResults int

	LogLevel string
}

// Load reads the settings from the environment. Secrets support the *_FILE
// convention; a read failure there is the only way Load can fail.
func Load() (*Settings, error) {
	neo4jPassword, err := ResolveSecret("NEO4J_PASSWORD")
	if err != nil {
		return nil, err
	}
	slackToken, err := ResolveSecret("SLACK_OAUTH_BOT_TOKEN")
	if err != nil {
		return nil, err
	}

	return &Settings{
		ConfigFile: Str("REPORTING_CONFIG_FILE", "reporting.yaml"),

		Neo4jURI:                   Str("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:                  Str("NEO4J_USER", ""),
		Neo4jPassword:              neo4jPassword,
		Neo4jMaxConnectionLifetime: time.Duration(Int("NEO4J_MAX_CONNECTION_LIFETIME", 3600)) * time.Second,

		EnableScheduledQueries:  Bool("ENABLE_SCHEDULED_QUERIES", true),
		ScheduledQueryFrequency: time.Duration(Int("SCHEDULED_QUERY_FREQUENCY", 20)) * time.Second,
		ScheduledQueryModules:   List("SCHEDULED_QUERY_MODULES", []string{"sqs", "slack"}),
		EngineName:              Str("ENGINE_NAME", "vantage"),

		SQSURL:          Str("SQS_URL", ""),
		SQSCreateQueues: Bool("SQS_CREATE_SCHEDULED_QUERY_QUEUES", false),

		SlackBotToken: slackToken,

		MQTTURL: Str("MQTT_URL", "tcp://localhost:1883"),

		StatsdHost:               Str("STATSD_HOST", ""),
		StatsdPort:               Int("STATSD_PORT", 8125),
		StatsdConstantTags:       List("STATSD_CONSTANT_TAGS", nil),
		DashboardStatsFrequency:  time.Duration(Int("DASHBOARD_STATS_FREQUENCY", 300)) * time.Second,
		DashboardStatsMaxResults: Int("DASHBOARD_STATS_MAX_INPUT_RESULTS", 100),

		LogLevel: Str("LOG_LEVEL", "info"),
	}, nil
}

// Str returns the value of the environment variable, or def if unset or empty.
func Str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the integer value of the environment variable, or def if unset
// or unparseable.
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the boolean value of the environment variable, or def if unset
// or unparseable.
func Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// List splits the environment variable on commas, trimming whitespace around
// each element. Returns def if the variable is unset or empty.
func List(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
