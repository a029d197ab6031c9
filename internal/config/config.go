package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Strategy Strategy `mapstructure:"strategy"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the operator HTTP server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Strategy holds every tunable of the grid strategy in one place instead of
// scattered constants. The fee rate appeared as both 0.001 and 0.015 in
// earlier revisions of the strategy; 0.001 is the default here and the
// value is an explicit config knob so the strategy owner can override it.
type Strategy struct {
	OrderNotional       float64   `mapstructure:"order_notional"`
	InitialOrders       int       `mapstructure:"initial_orders"`
	SellOffsets         []float64 `mapstructure:"sell_offsets"`
	BuyOffsets          []float64 `mapstructure:"buy_offsets"`
	FeeRate             float64   `mapstructure:"fee_rate"`
	ReinvestMargin      float64   `mapstructure:"reinvest_margin"`
	RebuyDiscount       float64   `mapstructure:"rebuy_discount"`
	ResellMarkup        float64   `mapstructure:"resell_markup"`
	PollInterval        int       `mapstructure:"poll_interval"`         // seconds between monitor sweeps
	BalanceRetries      int       `mapstructure:"balance_retries"`       // attempts before the balance guard gives up
	BalancePollInterval int       `mapstructure:"balance_poll_interval"` // seconds between balance polls
	QuoteAssets         []string  `mapstructure:"quote_assets"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
// A .env file, when present, is loaded first so API credentials can be
// injected as BINANCE_APIKEY / BINANCE_SECRETKEY without touching the
// YAML file.
func LoadConfig(path string) (config Config, err error) {
	// Missing .env is fine; the config file or real env vars take over.
	_ = godotenv.Load()

	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size

	viper.SetDefault("strategy.order_notional", 10.0)
	viper.SetDefault("strategy.initial_orders", 3)
	viper.SetDefault("strategy.sell_offsets", []float64{0.05, 0.10, 0.15})
	viper.SetDefault("strategy.buy_offsets", []float64{-0.05, -0.10})
	viper.SetDefault("strategy.fee_rate", 0.001)
	viper.SetDefault("strategy.reinvest_margin", 0.05)
	viper.SetDefault("strategy.rebuy_discount", 0.05)
	viper.SetDefault("strategy.resell_markup", 0.05)
	viper.SetDefault("strategy.poll_interval", 60)
	viper.SetDefault("strategy.balance_retries", 5)
	viper.SetDefault("strategy.balance_poll_interval", 2)
	viper.SetDefault("strategy.quote_assets", []string{"USDT", "USDC", "FDUSD", "BUSD", "BTC", "ETH", "BNB"})

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
