package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User     string
	Pass     string
	Host     string
	Port     string
	Name     string
	MaxConns int
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	EventsTopic     string // NSQ topic for accepted events (fanout)
	DeliveriesTopic string // NSQ topic for per-subscription delivery attempts
	DLQTopic        string // Dead letter queue topic
	Channel         string // NSQ channel name for dispatchers
}

type Dispatcher struct {
	MaxAttempts      int             // Maximum delivery attempts per subscription
	BaseDelay        time.Duration   // First retry delay (doubled per attempt)
	MaxDelay         time.Duration   // Cap on the doubling backoff
	BackoffSchedule  []time.Duration // Explicit retry schedule; overrides doubling when set
	JitterPercent    float64         // Backoff jitter percentage (0.0-1.0)
	PublishDLQ       bool            // Whether to publish dead-lettered deliveries to the DLQ topic
	CallbackTimeout  time.Duration   // Per-attempt HTTP timeout
	ChainRetryDelay  time.Duration   // Requeue delay while earlier chain events are pending
	MaxInFlight      int             // NSQ max in-flight per consumer
	RecoveryInterval time.Duration   // How often to scan for stuck events
	RecoveryAge      time.Duration   // Minimum age before an accepted event is considered stuck
	HTTPPort         string          // Dispatcher HTTP metrics port
}

type API struct {
	HTTPPort     string // :8080
	JWTPublicKey string // RSA public key PEM; empty disables auth
	JWTIssuer    string
	JWTAudience  string
}

type FakeReceiver struct {
	FailFirstN      int           // Number of requests to fail initially
	ResponseDelayMS int           // Simulated response delay in milliseconds
	Port            string        // Server listen port
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	DB           DB
	NSQ          NSQ
	Dispatcher   Dispatcher
	API          API
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// ParseBackoffSchedule parses a comma-separated list of durations
// ("2s,10s,1m"). An empty or unparseable schedule returns nil, which
// means the doubling backoff applies.
func ParseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return nil
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		return nil
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "relaybus"),
		DB: DB{
			User:     getenv("DB_USER", "postgres"),
			Pass:     getenv("DB_PASS", "postgres"),
			Host:     getenv("DB_HOST", "postgres"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     getenv("DB_NAME", "relaybus"),
			MaxConns: getenvInt("DB_MAX_CONNS", 10),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			EventsTopic:     getenv("NSQ_EVENTS_TOPIC", "events"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			DLQTopic:        getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			Channel:         getenv("NSQ_CHANNEL", "dispatchers"),
		},
		Dispatcher: Dispatcher{
			MaxAttempts:      getenvInt("MAX_ATTEMPTS", 8),
			BaseDelay:        getenvDuration("BACKOFF_BASE_DELAY", 1*time.Second),
			MaxDelay:         getenvDuration("BACKOFF_MAX_DELAY", 5*time.Minute),
			BackoffSchedule:  ParseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:    getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			PublishDLQ:       getenvBool("PUBLISH_DLQ_TOPIC", false),
			CallbackTimeout:  getenvDuration("CALLBACK_TIMEOUT", 15*time.Second),
			ChainRetryDelay:  getenvDuration("CHAIN_RETRY_DELAY", 500*time.Millisecond),
			MaxInFlight:      getenvInt("NSQ_MAX_IN_FLIGHT", 64),
			RecoveryInterval: getenvDuration("RECOVERY_INTERVAL", 1*time.Minute),
			RecoveryAge:      getenvDuration("RECOVERY_AGE", 2*time.Minute),
			HTTPPort:         ":" + getenv("DISPATCHER_HTTP_PORT", "8083"),
		},
		API: API{
			HTTPPort:     getenv("HTTP_PORT", ":8080"),
			JWTPublicKey: getenv("JWT_PUBLIC_KEY", ""),
			JWTIssuer:    getenv("JWT_ISSUER", ""),
			JWTAudience:  getenv("JWT_AUDIENCE", ""),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
