package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Database struct {
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Name          string `mapstructure:"name"`
	Host          string `mapstructure:"host"`
	Port          string `mapstructure:"port"`
	SSLMode       string `mapstructure:"ssl-mode"`
	MigrationsDir string `mapstructure:"migrations-dir"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Stripe struct {
	SecretKey     string  `mapstructure:"secret-key"`
	WebhookSecret string  `mapstructure:"webhook-secret"`
	FeePercent    float64 `mapstructure:"fee-percent"`
	FeeFixed      float64 `mapstructure:"fee-fixed"`
	TimeoutMs     int     `mapstructure:"timeout-ms"`
}

type Refund struct {
	WindowDays int `mapstructure:"window-days"`
}

type Webhook struct {
	// AckOnError controls what happens when event handling fails after the
	// signature check passed: true acknowledges with 200 so Stripe does not
	// retry, false returns 500 so it does.
	AckOnError bool `mapstructure:"ack-on-error"`
}

type Reconciler struct {
	PollingIntervalMs int `mapstructure:"polling-interval-ms"`
	StaleAfterMs      int `mapstructure:"stale-after-ms"`
	FetchSize         int `mapstructure:"fetch-size"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type Kafka struct {
	BrokerURL          string      `mapstructure:"broker-url"`
	PaymentEventsTopic string      `mapstructure:"payment-events-topic"`
	Writer             KafkaWriter `mapstructure:"writer"`
}

type Redis struct {
	Addr         string `mapstructure:"addr"`
	AccountTTLMs int    `mapstructure:"account-ttl-ms"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwt-secret"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database   Database   `mapstructure:"database"`
	Server     Server     `mapstructure:"server"`
	Stripe     Stripe     `mapstructure:"stripe"`
	Refund     Refund     `mapstructure:"refund"`
	Webhook    Webhook    `mapstructure:"webhook"`
	Reconciler Reconciler `mapstructure:"reconciler"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Redis      Redis      `mapstructure:"redis"`
	Auth       Auth       `mapstructure:"auth"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Logs       Logs       `mapstructure:"logs"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
