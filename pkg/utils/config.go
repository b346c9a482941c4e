package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Payment  PaymentConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Tracing  TracingConfig
	Booking  BookingConfig
	Jobs     JobsConfig
}

type AppConfig struct {
	Name    string
	Port    string
	Debug   bool
	LogPath string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	MaxConns int32
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type PaymentConfig struct {
	SecretKey          string
	WebhookSecret      string
	Currency           string
	SuccessURL         string
	CancelURL          string
	CheckoutTTLMinutes int
	WebhookDedupTTL    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

type BookingConfig struct {
	Location           *time.Location
	HorizonDays        int
	HoldMinutes        int
	DefaultLeadMinutes int
	CaptureWeekday     time.Weekday
	CaptureTime        string
}

type JobsConfig struct {
	CaptureCron        string
	EndedCron          string
	CaptureBatchSize   int
	CaptureConcurrency int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	// Set defaults
	viper.SetDefault("APP_NAME", "expert-booking")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("LOG_PATH", "logs/")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("JWT_ISSUER", "")
	viper.SetDefault("PAYMENT_CURRENCY", "eur")
	viper.SetDefault("CHECKOUT_SUCCESS_URL", "http://localhost:3000/mon_rdv?success=1")
	viper.SetDefault("CHECKOUT_CANCEL_URL", "http://localhost:3000/mon_rdv?success=0")
	viper.SetDefault("CHECKOUT_TTL_MINUTES", 30)
	viper.SetDefault("WEBHOOK_DEDUP_TTL_HOURS", 72)
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("RABBITMQ_EXCHANGE", "booking.events")
	viper.SetDefault("OTEL_ENABLED", false)
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	viper.SetDefault("TIMEZONE", "Europe/Paris")
	viper.SetDefault("HORIZON_DAYS", 30)
	viper.SetDefault("HOLD_MINUTES", 2)
	viper.SetDefault("DEFAULT_LEAD_MINUTES", 10)
	viper.SetDefault("CAPTURE_WEEKDAY", "monday")
	viper.SetDefault("CAPTURE_TIME", "10:00")
	viper.SetDefault("CAPTURE_CRON", "*/5 * * * *")
	viper.SetDefault("ENDED_CRON", "*/15 * * * *")
	viper.SetDefault("CAPTURE_BATCH_SIZE", 100)
	viper.SetDefault("CAPTURE_CONCURRENCY", 4)

	// A missing .env is fine when everything comes from the environment.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	viper.AutomaticEnv()

	loc, err := time.LoadLocation(viper.GetString("TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", viper.GetString("TIMEZONE"), err)
	}

	weekday, err := ParseWeekday(viper.GetString("CAPTURE_WEEKDAY"))
	if err != nil {
		return nil, err
	}

	// HMAC with an empty key verifies anything signed with an empty key.
	for _, key := range []string{"JWT_SECRET", "STRIPE_WEBHOOK_SECRET"} {
		if strings.TrimSpace(viper.GetString(key)) == "" {
			return nil, fmt.Errorf("%s must be set", key)
		}
	}

	captureTime := viper.GetString("CAPTURE_TIME")
	if _, err := time.Parse("15:04", captureTime); err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_TIME %q: %w", captureTime, err)
	}

	config := &Config{
		App: AppConfig{
			Name:    viper.GetString("APP_NAME"),
			Port:    viper.GetString("PORT"),
			Debug:   viper.GetBool("DEBUG"),
			LogPath: viper.GetString("LOG_PATH"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			Name:     viper.GetString("DB_NAME"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASS"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
			Issuer: viper.GetString("JWT_ISSUER"),
		},
		Payment: PaymentConfig{
			SecretKey:          viper.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret:      viper.GetString("STRIPE_WEBHOOK_SECRET"),
			Currency:           viper.GetString("PAYMENT_CURRENCY"),
			SuccessURL:         viper.GetString("CHECKOUT_SUCCESS_URL"),
			CancelURL:          viper.GetString("CHECKOUT_CANCEL_URL"),
			CheckoutTTLMinutes: viper.GetInt("CHECKOUT_TTL_MINUTES"),
			WebhookDedupTTL:    time.Duration(viper.GetInt("WEBHOOK_DEDUP_TTL_HOURS")) * time.Hour,
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      viper.GetString("RABBITMQ_URL"),
			Exchange: viper.GetString("RABBITMQ_EXCHANGE"),
		},
		Tracing: TracingConfig{
			Enabled:  viper.GetBool("OTEL_ENABLED"),
			Endpoint: viper.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		Booking: BookingConfig{
			Location:           loc,
			HorizonDays:        viper.GetInt("HORIZON_DAYS"),
			HoldMinutes:        viper.GetInt("HOLD_MINUTES"),
			DefaultLeadMinutes: viper.GetInt("DEFAULT_LEAD_MINUTES"),
			CaptureWeekday:     weekday,
			CaptureTime:        captureTime,
		},
		Jobs: JobsConfig{
			CaptureCron:        viper.GetString("CAPTURE_CRON"),
			EndedCron:          viper.GetString("ENDED_CRON"),
			CaptureBatchSize:   viper.GetInt("CAPTURE_BATCH_SIZE"),
			CaptureConcurrency: viper.GetInt("CAPTURE_CONCURRENCY"),
		},
	}

	return config, nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday %q", s)
}
