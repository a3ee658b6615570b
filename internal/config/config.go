package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Dispatch
	RingTimeout  time.Duration
	AgentLag     time.Duration
	RetryLag     time.Duration
	MinLag       time.Duration
	QueueTimeout time.Duration
	QueueMode    string
	CapPolicy    string

	// Operations
	StatsInterval   time.Duration
	RoutingInterval time.Duration
	RegistrationTTL time.Duration
	SLSeconds       int
	SLTarget        int
	AlertLongWait   time.Duration
	QueuesFile      string

	Sim SimConfig
}

// SimConfig configures the in-process telephony simulator
type SimConfig struct {
	Enabled     bool
	Agents      int
	AnswerProb  float64
	RingDelay   time.Duration
	TalkTime    time.Duration
	CallsPerMin float64
	Patience    time.Duration
	Domain      string
	Queue       string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		QueueMode:      getEnv("QUEUE_MODE", "ringall"),
		CapPolicy:      getEnv("ENTERPRISE_CAP", "dual"),
		QueuesFile:     getEnv("QUEUES_FILE", ""),
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 4096

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	durations := []struct {
		key  string
		def  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"UAC_TIMEOUT_MS", "60000", time.Millisecond, &config.RingTimeout},
		{"AGENT_LAG_MS", "30000", time.Millisecond, &config.AgentLag},
		{"AGENT_RETRY_LAG_MS", "5000", time.Millisecond, &config.RetryLag},
		{"MIN_LAG_MS", "100", time.Millisecond, &config.MinLag},
		{"QUEUE_TIMEOUT_SECS", "3600", time.Second, &config.QueueTimeout},
		{"STATS_INTERVAL_MS", "1000", time.Millisecond, &config.StatsInterval},
		{"ROUTING_INTERVAL_MS", "5000", time.Millisecond, &config.RoutingInterval},
		{"REGISTRATION_TTL_SECS", "120", time.Second, &config.RegistrationTTL},
		{"ALERT_LONGEST_WAIT_SECS", "120", time.Second, &config.AlertLongWait},
		{"SIM_RING_MS", "2000", time.Millisecond, &config.Sim.RingDelay},
		{"SIM_TALK_MS", "30000", time.Millisecond, &config.Sim.TalkTime},
		{"SIM_PATIENCE_SECS", "90", time.Second, &config.Sim.Patience},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.def, d.unit); err != nil {
			return nil, err
		}
	}

	if config.SLSeconds, err = getInt("SERVICE_LEVEL_SECS", "20"); err != nil {
		return nil, err
	}
	if config.SLTarget, err = getInt("SERVICE_LEVEL_TARGET", "80"); err != nil {
		return nil, err
	}

	config.Sim.Enabled = getEnv("SIM_ENABLED", "false") == "true"
	config.Sim.Domain = getEnv("SIM_DOMAIN", "demo")
	config.Sim.Queue = getEnv("SIM_QUEUE", "support")
	if config.Sim.Agents, err = getInt("SIM_AGENTS", "10"); err != nil {
		return nil, err
	}
	if config.Sim.AnswerProb, err = getFloat("SIM_ANSWER_PROB", "0.9"); err != nil {
		return nil, err
	}
	if config.Sim.CallsPerMin, err = getFloat("SIM_CALLS_PER_MIN", "6"); err != nil {
		return nil, err
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key, defaultValue string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key, defaultValue string) (float64, error) {
	f, err := strconv.ParseFloat(getEnv(key, defaultValue), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key, defaultValue string, unit time.Duration) (time.Duration, error) {
	n, err := strconv.ParseInt(getEnv(key, defaultValue), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: negative value %d", key, n)
	}
	return time.Duration(n) * unit, nil
}
