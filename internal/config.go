package internal

import (
	"time"

	"github.com/pgillich/reservation-gateway/internal/broker"
)

// BrokerConfig is the broker part of the service configs
type BrokerConfig struct {
	BrokerHost        string        `mapstructure:"brokerHost"`
	BrokerPort        int           `mapstructure:"brokerPort"`
	BrokerUser        string        `mapstructure:"brokerUser"`
	BrokerPassword    string        `mapstructure:"brokerPassword"`
	BrokerURL         string        `mapstructure:"brokerURL"`
	ReconnectInterval time.Duration `mapstructure:"reconnectInterval"`
}

func (c BrokerConfig) ClientConfig(name string, durable string) broker.Config {
	return broker.Config{
		Host:              c.BrokerHost,
		Port:              c.BrokerPort,
		User:              c.BrokerUser,
		Password:          c.BrokerPassword,
		URL:               c.BrokerURL,
		Name:              name,
		Durable:           durable,
		MaxReconnects:     -1,
		ReconnectInterval: c.ReconnectInterval,
	}
}

// TracingConfig selects the span exporter, tracing is local only if both URLs are empty
type TracingConfig struct {
	JaegerURL string `mapstructure:"jaegerURL"`
	OtlpURL   string `mapstructure:"otlpURL"`
}
