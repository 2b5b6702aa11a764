package config

import (
	"os"
	"strconv"
	"time"
)

// SettlementConfig holds the knobs of the completion settlement flow.
// AdminUserID is the reserved ledger account funding distributor
// payouts.
type SettlementConfig struct {
	AdminUserID     int
	HistoryCacheTTL time.Duration
	NotifyTimeout   time.Duration
}

func LoadSettlementConfig() *SettlementConfig {
	return &SettlementConfig{
		AdminUserID:     getEnvAsInt("ADMIN_WALLET_USER_ID", 5),
		HistoryCacheTTL: getEnvAsDuration("STATUS_HISTORY_CACHE_TTL", 30*time.Second),
		NotifyTimeout:   getEnvAsDuration("NOTIFY_TIMEOUT", 15*time.Second),
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
