package config

import (
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ScalpSentinel/internal/apperr"
	"ScalpSentinel/internal/model"
)

const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config holds all application configuration. It is loaded once at startup and
// passed by value or pointer to constructors.
type Config struct {
	Mode      string   `yaml:"mode" default:"paper" validate:"oneof=paper live"`
	Timezone  string   `yaml:"timezone" default:"America/New_York" validate:"required"`
	Watchlist []string `yaml:"watchlist" default:"[\"SPY\",\"QQQ\",\"AAPL\",\"TSLA\",\"NVDA\"]" validate:"dive,required"`

	Alpaca    AlpacaConfig    `yaml:"alpaca"`
	Market    MarketConfig    `yaml:"market"`
	Scanning  ScanningConfig  `yaml:"scanning"`
	Signals   SignalsConfig   `yaml:"signals"`
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	State     StateConfig     `yaml:"state"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Notifiers NotifiersConfig `yaml:"notifiers"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`

	RunOnStart bool `yaml:"run_on_start"`
}

type AlpacaConfig struct {
	KeyID             string        `yaml:"key_id"`
	SecretKey         string        `yaml:"secret_key"`
	TradingURL        string        `yaml:"trading_url"`
	DataURL           string        `yaml:"data_url" default:"https://data.alpaca.markets"`
	Feed              string        `yaml:"feed" default:"iex" validate:"oneof=iex sip"`
	Proxy             string        `yaml:"proxy"`
	Timeout           time.Duration `yaml:"timeout" default:"30s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" default:"3" validate:"gt=0"`
	Burst             int           `yaml:"burst" default:"5" validate:"gte=1"`
}

// MarketConfig is the regular session used by the market-hours gate.
type MarketConfig struct {
	Open  string `yaml:"open" default:"09:30" validate:"clock"`
	Close string `yaml:"close" default:"16:00" validate:"clock"`
}

type ScanningConfig struct {
	Cron                 string             `yaml:"cron" default:"0 30 8 * * 1-5" validate:"required"`
	MaxActiveTickers     int                `yaml:"max_active_tickers" default:"3" validate:"gte=1"`
	MinPremarketVolume   float64            `yaml:"min_premarket_volume" validate:"gte=0"`
	PremarketHistoryDays int                `yaml:"premarket_history_days" default:"5" validate:"gte=1"`
	NewsLookback         time.Duration      `yaml:"news_lookback" default:"24h"`
	Weights              map[string]float64 `yaml:"weights" default:"{\"premarket_volume\":0.25,\"gap_percent\":0.15,\"iv_rank\":0.15,\"option_open_interest\":0.15,\"atr\":0.10,\"news_sentiment\":0.10,\"news_volume\":0.10}"`
}

type SignalsConfig struct {
	EMAShort         int           `yaml:"ema_short" default:"9" validate:"gte=1"`
	EMALong          int           `yaml:"ema_long" default:"21" validate:"gtfield=EMAShort"`
	RSIPeriod        int           `yaml:"rsi_period" default:"14" validate:"gte=2"`
	RSICallMin       float64       `yaml:"rsi_call_min" default:"60" validate:"gte=0,lte=100"`
	RSIPutMax        float64       `yaml:"rsi_put_max" default:"40" validate:"gte=0,lte=100"`
	VolumeLookback   int           `yaml:"volume_lookback" default:"20" validate:"gte=1"`
	VolumeMultiplier float64       `yaml:"volume_multiplier" default:"1.2" validate:"gt=0"`
	LookbackMinutes  int           `yaml:"lookback_minutes" default:"120" validate:"gte=1"`
	PollInterval     time.Duration `yaml:"poll_interval" default:"15s"`
	TradingWindows   []string      `yaml:"trading_windows" default:"[\"09:35-11:30\",\"13:30-15:45\"]" validate:"dive,window"`
}

type TradingConfig struct {
	MaxRiskPct       float64       `yaml:"max_risk_pct" default:"0.01" validate:"gt=0,lte=1"`
	MaxOptionDTEDays float64       `yaml:"max_option_dte_days" default:"1" validate:"gte=0"`
	ATMTolerancePct  float64       `yaml:"atm_tolerance_pct" default:"0.005" validate:"gte=0"`
	MaxOTMPct        float64       `yaml:"max_otm_pct" default:"0.02" validate:"gte=0"`
	ProfitTarget     float64       `yaml:"profit_target" default:"0.15" validate:"gt=0"`
	StopLoss         float64       `yaml:"stop_loss" default:"0.07" validate:"gt=0"`
	TimeoutSeconds   int           `yaml:"timeout_seconds" default:"300" validate:"gte=1"`
	EndOfDayExit     string        `yaml:"end_of_day_exit" default:"15:55" validate:"clock"`
	MonitorInterval  time.Duration `yaml:"monitor_interval" default:"5s"`
	FillTimeout      time.Duration `yaml:"fill_timeout" default:"60s"`
	FillPollInterval time.Duration `yaml:"fill_poll_interval" default:"2s"`
}

type RiskConfig struct {
	MaxDailyLossPct float64              `yaml:"max_daily_loss_pct" default:"0.10" validate:"gt=0"`
	MaxTradesPerDay int                  `yaml:"max_trades_per_day" default:"999" validate:"gte=1"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Capacity  int           `yaml:"capacity" default:"10" validate:"gte=1"`
	Threshold int           `yaml:"threshold" default:"5" validate:"gte=1,ltefield=Capacity"`
	Span      time.Duration `yaml:"span" default:"5m"`
}

type StateConfig struct {
	Backend   string `yaml:"backend" default:"file" validate:"oneof=file redis"`
	File      string `yaml:"file" default:"data/state.json"`
	RedisAddr string `yaml:"redis_addr" default:"localhost:6379"`
	RedisDB   int    `yaml:"redis_db"`
	RedisKey  string `yaml:"redis_key" default:"scalpsentinel:state"`
}

type LedgerConfig struct {
	Backend    string `yaml:"backend" default:"csv" validate:"oneof=csv sqlite"`
	CSVPath    string `yaml:"csv_path" default:"data/trades.csv"`
	SQLitePath string `yaml:"sqlite_path" default:"data/trades.db"`
}

type NotifiersConfig struct {
	QueueSize int            `yaml:"queue_size" default:"64" validate:"gte=1"`
	Discord   DiscordConfig  `yaml:"discord"`
	Telegram  TelegramConfig `yaml:"telegram"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	// Commands enables /status, /pause and friends from the configured chat.
	Commands bool `yaml:"commands" default:"true"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:"127.0.0.1:8080"`
	// Token guards the control routes. Without it they answer 403.
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

// Default returns a config with every default applied and no credentials.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, apperr.Wrap(apperr.CodeConfiguration, "apply defaults", err)
	}
	return cfg, nil
}

// Load reads config from a YAML file over the defaults, then applies environment
// variable overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, apperr.Wrap(apperr.CodeConfiguration, "read config", err)
	}
	if len(data) > 0 {
		// yaml merges into a non-nil map, so a weights block must replace the defaults
		weights := cfg.Scanning.Weights
		cfg.Scanning.Weights = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.Wrap(apperr.CodeConfiguration, "parse config", err)
		}
		if cfg.Scanning.Weights == nil {
			cfg.Scanning.Weights = weights
		}
	}

	cfg.applyEnv()
	if cfg.Alpaca.TradingURL == "" {
		cfg.Alpaca.TradingURL = tradingURL(cfg.Mode)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ALPACA_API_KEY_ID"); v != "" {
		c.Alpaca.KeyID = v
	}
	if v := os.Getenv("ALPACA_API_SECRET_KEY"); v != "" {
		c.Alpaca.SecretKey = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		c.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Notifiers.Discord.WebhookURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notifiers.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notifiers.Telegram.ChatID = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.State.Backend = "redis"
		c.State.RedisAddr = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Alpaca.Proxy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.RunOnStart = b
		}
	}
}

func tradingURL(mode string) string {
	if mode == ModeLive {
		return "https://api.alpaca.markets"
	}
	return "https://paper-api.alpaca.markets"
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := ParseClock(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("window", func(fl validator.FieldLevel) bool {
		_, err := ParseWindow(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks required credentials and field constraints.
func (c *Config) Validate() error {
	if c.Alpaca.KeyID == "" || c.Alpaca.SecretKey == "" {
		return apperr.New(apperr.CodeConfiguration, "alpaca credentials are required (ALPACA_API_KEY_ID, ALPACA_API_SECRET_KEY)")
	}
	if err := validate.Struct(c); err != nil {
		return apperr.Wrap(apperr.CodeConfiguration, "invalid config", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return apperr.Wrapf(apperr.CodeConfiguration, err, "timezone %q", c.Timezone)
	}
	if c.Signals.PollInterval <= 0 || c.Trading.MonitorInterval <= 0 {
		return apperr.New(apperr.CodeConfiguration, "poll and monitor intervals must be positive")
	}
	if c.Trading.FillTimeout <= 0 || c.Trading.FillPollInterval <= 0 {
		return apperr.New(apperr.CodeConfiguration, "fill timeout and poll interval must be positive")
	}
	if c.Risk.CircuitBreaker.Span <= 0 {
		return apperr.New(apperr.CodeConfiguration, "circuit breaker span must be positive")
	}
	total := 0.0
	for name, w := range c.Scanning.Weights {
		if !knownMetric(name) {
			return apperr.Newf(apperr.CodeConfiguration, "unknown scan weight %q", name)
		}
		if w < 0 {
			return apperr.Newf(apperr.CodeConfiguration, "scan weight %q is negative", name)
		}
		total += w
	}
	if math.Abs(total-1) > weightTolerance {
		return apperr.Newf(apperr.CodeConfiguration, "scan weights sum to %.4f, want 1", total)
	}
	return nil
}

const weightTolerance = 0.01

// Location returns the market time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func knownMetric(name string) bool {
	return slices.Contains(model.MetricNames, name)
}

// String renders the config with secrets masked.
func (c Config) String() string {
	c.Alpaca.SecretKey = mask(c.Alpaca.SecretKey)
	c.Alpaca.KeyID = mask(c.Alpaca.KeyID)
	c.Notifiers.Telegram.BotToken = mask(c.Notifiers.Telegram.BotToken)
	c.Notifiers.Discord.WebhookURL = mask(c.Notifiers.Discord.WebhookURL)
	c.API.Token = mask(c.API.Token)
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
