package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// DB
	DatabaseDSN       string `envconfig:"DATABASE_DSN" required:"true"`
	DBConnectAttempts uint   `envconfig:"DB_CONNECT_ATTEMPTS" default:"5"`
	// JWT
	JWTSecret    string `envconfig:"JWT_SECRET" required:"true"`
	JWTExpireMin int    `envconfig:"JWT_EXPIRE_MIN" default:"10080"`
	// Network
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:5173"`
	// Payment
	PaymentProvider     string        `envconfig:"PAYMENT_PROVIDER" default:"stripe"`
	PaymentTimeout      time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"15s"`
	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	OmisePublicKey      string        `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey      string        `envconfig:"OMISE_SECRET_KEY"`
	OmiseSourceType     string        `envconfig:"OMISE_SOURCE_TYPE" default:"mobile_banking_kbank"`
	Currency            string        `envconfig:"CURRENCY" default:"usd"`
	CurrencyDecimals    int32         `envconfig:"CURRENCY_DECIMALS" default:"2"`
	// MQ (optional)
	RabbitURL          string `envconfig:"RABBIT_URL"`
	EnrollmentExchange string `envconfig:"ENROLLMENT_EXCHANGE" default:"enrollment.exchange"`
	// Observability
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Env          string `envconfig:"ENV" default:"dev"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}

func (c App) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpireMin) * time.Minute
}
