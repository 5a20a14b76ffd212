package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Tier determines feature availability
	Tier Tier `mapstructure:"tier" json:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	Cache      CacheConfig      `mapstructure:"cache" json:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus" json:"eventBus"`

	// Decision core tuning
	Scoring     ScoringConfig     `mapstructure:"scoring" json:"scoring"`
	Trust       TrustConfig       `mapstructure:"trust" json:"trust"`
	CardTesting CardTestingConfig `mapstructure:"card_testing" json:"cardTesting"`
	Composite   CompositeConfig   `mapstructure:"composite" json:"composite"`

	// RulesFile optionally seeds custom rules from a YAML file at startup.
	RulesFile string `mapstructure:"rules_file" json:"rulesFile"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host" json:"host"`
	Port         int    `mapstructure:"port" json:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `mapstructure:"write_timeout" json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName  string `mapstructure:"service_name" json:"serviceName"`
	ExporterType string `mapstructure:"exporter_type" json:"exporterType"` // stdout, otlp
	Endpoint     string `mapstructure:"endpoint" json:"endpoint"`
}

// ScoringConfig holds the fraud engine thresholds.
// Amounts are in minor currency units.
type ScoringConfig struct {
	VelocityWarning  int `mapstructure:"velocity_warning" json:"velocityWarning"`   // attempts per hour
	VelocityCritical int `mapstructure:"velocity_critical" json:"velocityCritical"` // attempts per hour

	UniqueCardsWarning    int `mapstructure:"unique_cards_warning" json:"uniqueCardsWarning"`
	UniqueCardsSuspicious int `mapstructure:"unique_cards_suspicious" json:"uniqueCardsSuspicious"`
	UniqueCardsCritical   int `mapstructure:"unique_cards_critical" json:"uniqueCardsCritical"`

	HighAmount     int64 `mapstructure:"high_amount" json:"highAmount"`
	VeryHighAmount int64 `mapstructure:"very_high_amount" json:"veryHighAmount"`
	SmallAmount    int64 `mapstructure:"small_amount" json:"smallAmount"`

	LowThreshold      int `mapstructure:"low_threshold" json:"lowThreshold"`           // <= ALLOW
	HighThreshold     int `mapstructure:"high_threshold" json:"highThreshold"`         // <= REVIEW, above BLOCK
	CriticalThreshold int `mapstructure:"critical_threshold" json:"criticalThreshold"` // high-confidence BLOCK

	// Unusual hours are [UnusualHourStart, UnusualHourEnd).
	UnusualHourStart int `mapstructure:"unusual_hour_start" json:"unusualHourStart"`
	UnusualHourEnd   int `mapstructure:"unusual_hour_end" json:"unusualHourEnd"`
}

// TrustConfig holds the trust tier breakpoints.
type TrustConfig struct {
	SuspiciousAt int `mapstructure:"suspicious_at" json:"suspiciousAt"` // below: blocked
	NewAt        int `mapstructure:"new_at" json:"newAt"`               // below: suspicious
	TrustedAt    int `mapstructure:"trusted_at" json:"trustedAt"`       // below: new
	VIPAt        int `mapstructure:"vip_at" json:"vipAt"`               // below: trusted
}

// CardTestingConfig holds the card-testing suspicion thresholds.
type CardTestingConfig struct {
	BlockScore  int `mapstructure:"block_score" json:"blockScore"`
	ReviewScore int `mapstructure:"review_score" json:"reviewScore"`

	// SmallAmount is the probing ceiling in minor units.
	SmallAmount int64 `mapstructure:"small_amount" json:"smallAmount"`

	BurstWindow     time.Duration `mapstructure:"burst_window" json:"burstWindow"`          // 5 attempts
	LongBurstWindow time.Duration `mapstructure:"long_burst_window" json:"longBurstWindow"` // 3 attempts

	// MaxRetries bounds optimistic retries on version conflicts.
	MaxRetries int `mapstructure:"max_retries" json:"maxRetries"`
}

// CompositeConfig holds composite score weights and level breakpoints.
type CompositeConfig struct {
	FraudWeight     float64 `mapstructure:"fraud_weight" json:"fraudWeight"`
	SuspicionWeight float64 `mapstructure:"suspicion_weight" json:"suspicionWeight"`

	LowAt      int `mapstructure:"low_at" json:"lowAt"`           // below: minimal
	ModerateAt int `mapstructure:"moderate_at" json:"moderateAt"` // below: low
	ElevatedAt int `mapstructure:"elevated_at" json:"elevatedAt"` // below: moderate
	HighAt     int `mapstructure:"high_at" json:"highAt"`         // below: elevated
	CriticalAt int `mapstructure:"critical_at" json:"criticalAt"` // below: high
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultScoringConfig returns the default fraud engine thresholds.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		VelocityWarning:       5,
		VelocityCritical:      10,
		UniqueCardsWarning:    2,
		UniqueCardsSuspicious: 3,
		UniqueCardsCritical:   5,
		HighAmount:            50000,
		VeryHighAmount:        100000,
		SmallAmount:           500,
		LowThreshold:          30,
		HighThreshold:         70,
		CriticalThreshold:     85,
		UnusualHourStart:      3,
		UnusualHourEnd:        6,
	}
}

// DefaultTrustConfig returns the default tier breakpoints.
func DefaultTrustConfig() TrustConfig {
	return TrustConfig{SuspiciousAt: 20, NewAt: 40, TrustedAt: 60, VIPAt: 80}
}

// DefaultCardTestingConfig returns the default card-testing thresholds.
func DefaultCardTestingConfig() CardTestingConfig {
	return CardTestingConfig{
		BlockScore:      80,
		ReviewScore:     50,
		SmallAmount:     500,
		BurstWindow:     5 * time.Minute,
		LongBurstWindow: 10 * time.Minute,
		MaxRetries:      5,
	}
}

// DefaultCompositeConfig returns the default 60/40 weighting.
func DefaultCompositeConfig() CompositeConfig {
	return CompositeConfig{
		FraudWeight:     0.6,
		SuspicionWeight: 0.4,
		LowAt:           15,
		ModerateAt:      30,
		ElevatedAt:      50,
		HighAt:          70,
		CriticalAt:      85,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			RuleTTL:      30 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring:     DefaultScoringConfig(),
		Trust:       DefaultTrustConfig(),
		CardTesting: DefaultCardTestingConfig(),
		Composite:   DefaultCompositeConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
// Trackers are serialized across nodes through Redis locks.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		RuleTTL:        30 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
