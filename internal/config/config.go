// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	TelegramToken string
	LNbitsURL     string
	LNbitsAPIKey  string

	// DataDir holds the balances file, the redpackets file and the
	// transaction log.
	DataDir string

	// DatabaseURL enables the Postgres audit mirror when set.
	DatabaseURL    string
	MigrationsPath string

	OperatorTelegramID int64

	WithdrawFeeSat int64
	MaxWithdrawSat int64
	EmojiTipSat    int64

	MaxRedpacketSlots int
	RedpacketTTL      time.Duration

	DepositPollInterval time.Duration
	DepositMaxWait      time.Duration
	VerifyDelay         time.Duration
}

func LoadConfig() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		TelegramToken:       os.Getenv("TELEGRAM_TOKEN"),
		LNbitsURL:           os.Getenv("LNBITS_URL"),
		LNbitsAPIKey:        os.Getenv("LNBITS_API_KEY"),
		DataDir:             envString("DATA_DIR", "data"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		MigrationsPath:      envString("MIGRATIONS_PATH", "migrations"),
		OperatorTelegramID:  envInt("OPERATOR_TELEGRAM_ID", 0),
		WithdrawFeeSat:      envInt("WITHDRAW_FEE_SAT", 2),
		MaxWithdrawSat:      envInt("MAX_WITHDRAW_SAT", 1_000_000),
		EmojiTipSat:         envInt("EMOJI_TIP_SAT", 21),
		MaxRedpacketSlots:   int(envInt("MAX_REDPACKET_SLOTS", 20)),
		RedpacketTTL:        envDuration("REDPACKET_TTL", 60*time.Minute),
		DepositPollInterval: envDuration("DEPOSIT_POLL_INTERVAL", 10*time.Second),
		DepositMaxWait:      envDuration("DEPOSIT_MAX_WAIT", 30*time.Minute),
		VerifyDelay:         envDuration("VERIFY_DELAY", 5*time.Second),
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}
	if cfg.LNbitsURL == "" || cfg.LNbitsAPIKey == "" {
		return nil, fmt.Errorf("LNBITS_URL and LNBITS_API_KEY must be set")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
