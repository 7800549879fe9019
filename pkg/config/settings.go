package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the process configuration, read from the environment.
type Settings struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBTimeZone string

	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQHost     string
	RabbitMQPort     string
	OutboxQueue      string
	// OutboxMode is "direct" (the scheduler delivers) or "queue" (the worker
	// delivers notarizations and notifications, the scheduler still pays out).
	OutboxMode string

	RedisURL string

	Port           string
	JWTSecret      string
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int

	SolanaRPC      string
	KeyPassword    string
	KeyStoreDir    string
	TreasuryKey    string
	NotaryKey      string
	PayoutMint     string
	PayoutDecimals int32
	// PayoutBatch is how many holder payments one payout delivery settles.
	PayoutBatch    int

	DiscordToken        string
	DiscordAlertChannel string

	DistributionCron string
	ReconcileCron    string
	ProposalCron     string
	OutboxCron       string

	LockTimeout       time.Duration
	ProcessingTimeout time.Duration
	ManualCooldown    time.Duration
	RunTimeout        time.Duration

	LogLevel string
	LogDir   string
}

// Load reads Settings from the environment, applying defaults.
func Load() (Settings, error) {
	s := Settings{
		DBHost:     env("DB_HOST", "localhost"),
		DBUser:     env("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     env("DB_NAME", "estatesettle"),
		DBPort:     env("DB_PORT", "5432"),
		DBTimeZone: env("DB_TIMEZONE", "UTC"),

		RabbitMQUser:     env("RABBITMQ_USER", "guest"),
		RabbitMQPassword: env("RABBITMQ_PASSWORD", "guest"),
		RabbitMQHost:     env("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     env("RABBITMQ_PORT", "5672"),
		OutboxQueue:      env("OUTBOX_QUEUE", "estatesettle.outbox"),
		OutboxMode:       env("OUTBOX_MODE", "direct"),

		RedisURL: os.Getenv("REDIS_URL"),

		Port:      env("PORT", "8080"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		SolanaRPC:   env("SOLANA_RPC", "https://api.devnet.solana.com"),
		KeyPassword: os.Getenv("KEY_PASSWORD"),
		KeyStoreDir: env("KEYSTORE_DIR", "keystore"),
		TreasuryKey: os.Getenv("TREASURY_KEY"),
		NotaryKey:   os.Getenv("NOTARY_KEY"),
		PayoutMint:  os.Getenv("PAYOUT_MINT"),

		DiscordToken:        os.Getenv("DISCORD_TOKEN"),
		DiscordAlertChannel: os.Getenv("DISCORD_ALERT_CHANNEL"),

		DistributionCron: env("DISTRIBUTION_CRON", "0 */5 * * * *"),
		ReconcileCron:    env("RECONCILE_CRON", "30 */10 * * * *"),
		ProposalCron:     env("PROPOSAL_CRON", "15 * * * * *"),
		OutboxCron:       env("OUTBOX_CRON", "*/10 * * * * *"),

		LogLevel: env("LOG_LEVEL", "info"),
		LogDir:   os.Getenv("LOG_DIR"),
	}
	for _, o := range strings.Split(env("ALLOWED_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			s.AllowedOrigins = append(s.AllowedOrigins, o)
		}
	}

	var err error
	if s.RateLimit, err = floatEnv("RATE_LIMIT", 10); err != nil {
		return s, err
	}
	if s.RateBurst, err = intEnv("RATE_BURST", 20); err != nil {
		return s, err
	}
	decimals, err := intEnv("PAYOUT_DECIMALS", 6)
	if err != nil {
		return s, err
	}
	s.PayoutDecimals = int32(decimals)
	if s.PayoutBatch, err = intEnv("PAYOUT_BATCH", 5); err != nil {
		return s, err
	}
	if s.PayoutBatch < 1 {
		return s, fmt.Errorf("PAYOUT_BATCH must be at least 1, got %d", s.PayoutBatch)
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"LOCK_TIMEOUT", 10 * time.Minute, &s.LockTimeout},
		{"PROCESSING_TIMEOUT", 30 * time.Minute, &s.ProcessingTimeout},
		{"MANUAL_COOLDOWN", 5 * time.Minute, &s.ManualCooldown},
		{"RUN_TIMEOUT", 2 * time.Minute, &s.RunTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key, d.def); err != nil {
			return s, err
		}
	}

	if s.OutboxMode != "direct" && s.OutboxMode != "queue" {
		return s, fmt.Errorf("OUTBOX_MODE must be direct or queue, got %q", s.OutboxMode)
	}
	return s, nil
}

// DSN is the postgres connection string.
func (s Settings) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=%s",
		s.DBHost, s.DBUser, s.DBPassword, s.DBName, s.DBPort, s.DBTimeZone)
}

// RabbitMQURL is the AMQP connection string.
func (s Settings) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", s.RabbitMQUser, s.RabbitMQPassword, s.RabbitMQHost, s.RabbitMQPort)
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
