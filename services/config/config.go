// Package config loads the backtester configuration.
//
// Sources, lowest precedence first: built-in defaults, a YAML file, MEANREV_* environment
// variables, then CLI flags applied by the caller. Example YAML:
//
//	strategy:
//	  kc_period: 20
//	  kc_multiplier: 1.5
//	  atr_period: 14
//	  risk_per_trade: 0.02
//	  tp_multiplier: 1.5
//	  sl_multiplier: 1.0
//	  entry_mode: signal-close
//	backtest:
//	  cash: 100000
//	  commission: 0.002
//	  symbol: XAUUSD
//	data:
//	  source: csv
//	  path: XAU_15m_data.csv
//	logging:
//	  level: info
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"atr-meanrev-backtest/services/engine"
	"atr-meanrev-backtest/strategies"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MEANREV_"

type Config struct {
	Strategy StrategyConfig `yaml:"strategy"`
	Backtest BacktestConfig `yaml:"backtest"`
	Data     DataConfig     `yaml:"data"`
	Output   OutputConfig   `yaml:"output"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type StrategyConfig struct {
	KcPeriod     int     `yaml:"kc_period" json:"kc_period" validate:"gte=1,lte=10000"`
	KcMultiplier float64 `yaml:"kc_multiplier" json:"kc_multiplier" validate:"gt=0"`
	AtrPeriod    int     `yaml:"atr_period" json:"atr_period" validate:"gte=1,lte=10000"`
	RiskPerTrade float64 `yaml:"risk_per_trade" json:"risk_per_trade" validate:"gt=0,lte=1"`
	TpMultiplier float64 `yaml:"tp_multiplier" json:"tp_multiplier" validate:"gt=0"`
	SlMultiplier float64 `yaml:"sl_multiplier" json:"sl_multiplier" validate:"gt=0"`
	EntryMode    string  `yaml:"entry_mode" json:"entry_mode" validate:"oneof=signal-close next-open"`
	WholeUnits   bool    `yaml:"whole_units" json:"whole_units"`
}

type BacktestConfig struct {
	Cash       float64 `yaml:"cash" json:"cash" validate:"gt=0"`
	Commission float64 `yaml:"commission" json:"commission" validate:"gte=0,lt=1"`
	Symbol     string  `yaml:"symbol" json:"symbol" validate:"required"`
}

type DataConfig struct {
	Source     string           `yaml:"source" validate:"oneof=csv arrow clickhouse influx"`
	Path       string           `yaml:"path" validate:"required_if=Source csv,required_if=Source arrow"`
	Resample   string           `yaml:"resample"`
	Start      string           `yaml:"start"`
	End        string           `yaml:"end"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Influx     InfluxConfig     `yaml:"influx"`
}

type ClickHouseConfig struct {
	Addr     []string `yaml:"addr"`
	Database string   `yaml:"database"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Table    string   `yaml:"table"`
	Interval string   `yaml:"interval"`
}

type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

type OutputConfig struct {
	Dir         string `yaml:"dir"`
	ResultsFile string `yaml:"results_file"`
	TradesFile  string `yaml:"trades_file"`
	TraceFile   string `yaml:"trace_file"`
	ArrowFile   string `yaml:"arrow_file"`
	ChartFile   string `yaml:"chart_file"`
	JSONFile    string `yaml:"json_file"`
}

type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr" validate:"required"`
	GRPCAddr       string        `yaml:"grpc_addr"`
	JobStorePath   string        `yaml:"job_store_path"` // empty keeps jobs in memory
	MaxUploadBytes int64         `yaml:"max_upload_bytes" validate:"gte=0"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	DataDir        string        `yaml:"data_dir"` // server-side CSV paths must live here
}

type LoggingConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Strategy: StrategyConfig{
			KcPeriod:     20,
			KcMultiplier: 1.5,
			AtrPeriod:    14,
			RiskPerTrade: 0.02,
			TpMultiplier: 1.5,
			SlMultiplier: 1.0,
			EntryMode:    "signal-close",
			WholeUnits:   true,
		},
		Backtest: BacktestConfig{
			Cash:       100000,
			Commission: 0.002,
			Symbol:     "XAUUSD",
		},
		Data: DataConfig{
			Source: "csv",
			Path:   "XAU_15m_data.csv",
			ClickHouse: ClickHouseConfig{
				Addr:     []string{"localhost:9000"},
				Database: "backtest",
				Username: "default",
				Table:    "klines",
				Interval: "15m",
			},
			Influx: InfluxConfig{
				URL:         "http://localhost:8086",
				Org:         "meanrev",
				Bucket:      "market",
				Measurement: "ohlcv",
			},
		},
		Output: OutputConfig{
			Dir:         ".",
			ResultsFile: "xauusd_atr_backtest_results.txt",
			TradesFile:  "xauusd_atr_trades.csv",
			ChartFile:   "xauusd_atr_backtest.html",
		},
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			GRPCAddr:       ":9090",
			MaxUploadBytes: 64 << 20,
			RunTimeout:     5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the first existing file among paths (or the default locations), applies
// environment overrides and validates. No file at all is not an error.
func Load(paths ...string) (*Config, error) {
	c := Default()

	explicit := len(paths) > 0 && paths[0] != ""
	if !explicit {
		paths = []string{"./configs/meanrev.yaml", "./meanrev.yaml"}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		b, err := os.ReadFile(abs)
		if errors.Is(err, os.ErrNotExist) && !explicit {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", abs, err)
		}
		break
	}

	c.applyEnv(envPrefix)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field bounds and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Data.Resample != "" {
		if _, err := strategies.ParseTimeframe(c.Data.Resample); err != nil {
			return fmt.Errorf("invalid config: data.resample: %w", err)
		}
	}
	if _, _, err := c.Data.Window(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Params converts the strategy section into generator params.
func (s StrategyConfig) Params() (strategies.Params, error) {
	mode, err := strategies.ParseEntryMode(s.EntryMode)
	if err != nil {
		return strategies.Params{}, err
	}
	p := strategies.Params{
		KcPeriod:     s.KcPeriod,
		KcMultiplier: s.KcMultiplier,
		AtrPeriod:    s.AtrPeriod,
		RiskPerTrade: decimal.NewFromFloat(s.RiskPerTrade),
		TpMultiplier: decimal.NewFromFloat(s.TpMultiplier),
		SlMultiplier: decimal.NewFromFloat(s.SlMultiplier),
		EntryMode:    mode,
		WholeUnits:   s.WholeUnits,
	}
	return p, p.Validate()
}

// Settings converts the backtest section into engine settings.
func (b BacktestConfig) Settings() engine.Settings {
	return engine.Settings{
		Cash:       decimal.NewFromFloat(b.Cash),
		Commission: decimal.NewFromFloat(b.Commission),
		Symbol:     b.Symbol,
	}
}

// Window parses the optional start/end bounds. Zero values mean unbounded.
func (d DataConfig) Window() (start, end time.Time, err error) {
	if d.Start != "" {
		if start, err = strategies.ParseDatetime(d.Start); err != nil {
			return start, end, fmt.Errorf("data.start: %w", err)
		}
	}
	if d.End != "" {
		if end, err = strategies.ParseDatetime(d.End); err != nil {
			return start, end, fmt.Errorf("data.end: %w", err)
		}
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return start, end, fmt.Errorf("data.end %s not after data.start %s", d.End, d.Start)
	}
	return start, end, nil
}

func (c *Config) applyEnv(prefix string) {
	c.Strategy.KcPeriod = pickInt(os.Getenv(prefix+"KC_PERIOD"), c.Strategy.KcPeriod)
	c.Strategy.KcMultiplier = pickFloat(os.Getenv(prefix+"KC_MULTIPLIER"), c.Strategy.KcMultiplier)
	c.Strategy.AtrPeriod = pickInt(os.Getenv(prefix+"ATR_PERIOD"), c.Strategy.AtrPeriod)
	c.Strategy.RiskPerTrade = pickFloat(os.Getenv(prefix+"RISK_PER_TRADE"), c.Strategy.RiskPerTrade)
	c.Strategy.TpMultiplier = pickFloat(os.Getenv(prefix+"TP_MULTIPLIER"), c.Strategy.TpMultiplier)
	c.Strategy.SlMultiplier = pickFloat(os.Getenv(prefix+"SL_MULTIPLIER"), c.Strategy.SlMultiplier)
	c.Strategy.EntryMode = pickStr(os.Getenv(prefix+"ENTRY_MODE"), c.Strategy.EntryMode)

	c.Backtest.Cash = pickFloat(os.Getenv(prefix+"CASH"), c.Backtest.Cash)
	c.Backtest.Commission = pickFloat(os.Getenv(prefix+"COMMISSION"), c.Backtest.Commission)
	c.Backtest.Symbol = pickStr(os.Getenv(prefix+"SYMBOL"), c.Backtest.Symbol)

	c.Data.Source = pickStr(os.Getenv(prefix+"DATA_SOURCE"), c.Data.Source)
	c.Data.Path = pickStr(os.Getenv(prefix+"DATA_PATH"), c.Data.Path)
	c.Data.ClickHouse.Password = pickStr(os.Getenv(prefix+"CLICKHOUSE_PASSWORD"), c.Data.ClickHouse.Password)
	c.Data.Influx.Token = pickStr(os.Getenv(prefix+"INFLUX_TOKEN"), c.Data.Influx.Token)

	c.Server.HTTPAddr = pickStr(os.Getenv(prefix+"HTTP_ADDR"), c.Server.HTTPAddr)
	c.Server.GRPCAddr = pickStr(os.Getenv(prefix+"GRPC_ADDR"), c.Server.GRPCAddr)
	c.Server.JobStorePath = pickStr(os.Getenv(prefix+"JOB_STORE_PATH"), c.Server.JobStorePath)

	c.Logging.Level = pickStr(os.Getenv(prefix+"LOG_LEVEL"), c.Logging.Level)
	c.Logging.Development = pickBool(os.Getenv(prefix+"LOG_DEVELOPMENT"), c.Logging.Development)
}

func pickStr(env, cur string) string {
	if strings.TrimSpace(env) != "" {
		return strings.TrimSpace(env)
	}
	return cur
}

func pickInt(env string, cur int) int {
	if strings.TrimSpace(env) == "" {
		return cur
	}
	if v, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
		return v
	}
	return cur
}

func pickFloat(env string, cur float64) float64 {
	if strings.TrimSpace(env) == "" {
		return cur
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
		return v
	}
	return cur
}

func pickBool(env string, cur bool) bool {
	if strings.TrimSpace(env) == "" {
		return cur
	}
	s := strings.ToLower(strings.TrimSpace(env))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}
