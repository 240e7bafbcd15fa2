package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads the optional config file at path and layers environment
// variables on top (CART_TAX_RATE overrides cart.tax_rate).
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	return v, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("cart.session_name", "_cart")
	v.SetDefault("cart.tax_rate", 20)

	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("session.driver", "memory")
	v.SetDefault("session.ttl", 2*time.Hour)
	v.SetDefault("session.cookie_name", "cart_session")
	v.SetDefault("session.breaker", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "cartdb")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "session-events")
	v.SetDefault("kafka.group_id", "cart-service")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
