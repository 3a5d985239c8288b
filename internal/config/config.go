package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr    string
	DataDir string
	DBPath  string

	PrometheusURL     string
	PrometheusTimeout time.Duration

	AlertCheckInterval time.Duration
	AlertConcurrency   int
	RetentionDays      int

	WSMetricsInterval time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	TelegramBotToken string
	TelegramChatID   string

	AdminEmail    string
	AdminPassword string
}

func Load() Config {
	dataDir := getenv("APP_DATA_DIR", "./data")
	return Config{
		Addr:               getenv("APP_ADDR", ":8080"),
		DataDir:            dataDir,
		DBPath:             getenv("APP_DB_PATH", dataDir+"/vigil.db"),
		PrometheusURL:      getenv("PROMETHEUS_URL", "http://prometheus:9090"),
		PrometheusTimeout:  getenvDuration("PROMETHEUS_TIMEOUT", 30*time.Second),
		AlertCheckInterval: getenvDuration("ALERT_CHECK_INTERVAL", 60*time.Second),
		AlertConcurrency:   getenvInt("ALERT_CONCURRENCY", 8),
		RetentionDays:      getenvInt("APP_RETENTION_DAYS", 30),
		WSMetricsInterval:  getenvDuration("WS_METRICS_INTERVAL", 5*time.Second),
		JWTSecret:          getenv("APP_SECRET_KEY", ""),
		JWTTTL:             getenvDuration("APP_TOKEN_TTL", 7*24*time.Hour),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     os.Getenv("TELEGRAM_CHAT_ID"),
		AdminEmail:         os.Getenv("APP_ADMIN_EMAIL"),
		AdminPassword:      os.Getenv("APP_ADMIN_PASSWORD"),
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}
