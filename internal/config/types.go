package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	ProviderExchange = "exchange"
	ProviderYahoo    = "yahoo"
	ProviderCSV      = "csv"
)

const (
	StrategyMomentum    = "momentum"
	StrategyMACrossover = "ma_crossover"
)

// Config 聚合了一次批量回测所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Source   SourceConfig   `mapstructure:"source"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Report   ReportConfig   `mapstructure:"report"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// BacktestConfig 描述标的池、区间、手续费、策略与参数网格。
type BacktestConfig struct {
	Instruments []string      `mapstructure:"instruments"`
	Start       time.Time     `mapstructure:"start"`
	End         time.Time     `mapstructure:"end"`
	Commission  float64       `mapstructure:"commission"`
	Strategy    string        `mapstructure:"strategy"`
	Lookbacks   []int         `mapstructure:"lookbacks"`
	Lookback    LookbackRange `mapstructure:"lookback"`
	MA          MAConfig      `mapstructure:"ma"`
	Workers     int           `mapstructure:"workers"`
}

// MAConfig 为均线交叉策略的快慢窗口。
type MAConfig struct {
	Fast int `mapstructure:"fast"`
	Slow int `mapstructure:"slow"`
}

// LookbackRange 以 [min, max] 步长 step 生成回看窗口网格。
type LookbackRange struct {
	Min  int `mapstructure:"min"`
	Max  int `mapstructure:"max"`
	Step int `mapstructure:"step"`
}

// SourceConfig 选择行情源。
type SourceConfig struct {
	Provider string         `mapstructure:"provider"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Yahoo    YahooConfig    `mapstructure:"yahoo"`
	CSV      CSVConfig      `mapstructure:"csv"`
	// Cache 为 true 时将已拉取的价格缓存到 SQLite，重复区间不再请求远端。
	Cache bool `mapstructure:"cache"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	Timeframe  string      `mapstructure:"timeframe"`
	PageLimit  int64       `mapstructure:"page_limit"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// YahooConfig 描述 Yahoo 图表接口。
type YahooConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

// CSVConfig 指向离线价格文件目录，每个标的一个 <instrument>.csv。
type CSVConfig struct {
	Dir string `mapstructure:"dir"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// ReportConfig 控制图表输出与推送。
type ReportConfig struct {
	OutputDir string          `mapstructure:"output_dir"`
	Charts    bool            `mapstructure:"charts"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Narrative NarrativeConfig `mapstructure:"narrative"`
}

// NarrativeConfig 配置用于生成回测文字点评的 OpenAI 兼容接口。
type NarrativeConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TelegramConfig 描述回测结果推送目标。
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	err = multierr.Append(err, c.Backtest.validate())
	err = multierr.Append(err, c.Source.validate())

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Report.Charts && c.Report.OutputDir == "" {
		err = multierr.Append(err, errors.New("report.output_dir 在启用图表时不能为空"))
	}
	if c.Report.Telegram.Enabled && (c.Report.Telegram.Token == "" || c.Report.Telegram.ChatID == 0) {
		err = multierr.Append(err, errors.New("report.telegram 启用时需要配置 token 与 chat_id"))
	}
	if n := c.Report.Narrative; n.Enabled {
		if n.APIKey == "" {
			err = multierr.Append(err, errors.New("report.narrative.api_key 在启用时不能为空"))
		}
		if n.Model == "" {
			err = multierr.Append(err, errors.New("report.narrative.model 不能为空"))
		}
		if n.Timeout <= 0 {
			err = multierr.Append(err, errors.New("report.narrative.timeout 必须大于0"))
		}
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (b BacktestConfig) validate() error {
	var err error

	if len(b.Instruments) == 0 {
		err = multierr.Append(err, errors.New("backtest.instruments 至少包含一个标的"))
	}
	for i, inst := range b.Instruments {
		if strings.TrimSpace(inst) == "" {
			err = multierr.Append(err, fmt.Errorf("backtest.instruments[%d] 不能为空", i))
		}
	}
	if !b.Start.IsZero() && !b.End.IsZero() && !b.Start.Before(b.End) {
		err = multierr.Append(err, errors.New("backtest.start 必须早于 backtest.end"))
	}
	if b.Commission < 0 || b.Commission >= 1 {
		err = multierr.Append(err, errors.New("backtest.commission 应位于[0,1)"))
	}
	switch b.Strategy {
	case StrategyMomentum:
		err = multierr.Append(err, b.validateLookbacks())
	case StrategyMACrossover:
		if b.MA.Fast < 1 || b.MA.Slow <= b.MA.Fast {
			err = multierr.Append(err, fmt.Errorf("backtest.ma 需满足 1 <= fast < slow, got %d/%d", b.MA.Fast, b.MA.Slow))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("backtest.strategy 不支持: %q", b.Strategy))
	}
	if b.Workers < 0 {
		err = multierr.Append(err, errors.New("backtest.workers 不能为负"))
	}

	return err
}

func (b BacktestConfig) validateLookbacks() error {
	var err error
	if len(b.Lookbacks) > 0 {
		for i, n := range b.Lookbacks {
			if n < 1 {
				err = multierr.Append(err, fmt.Errorf("backtest.lookbacks[%d] 必须大于等于1", i))
			}
		}
		return err
	}
	if b.Lookback.Min < 1 {
		err = multierr.Append(err, errors.New("backtest.lookback.min 必须大于等于1"))
	}
	if b.Lookback.Max < b.Lookback.Min {
		err = multierr.Append(err, errors.New("backtest.lookback.max 不能小于 min"))
	}
	if b.Lookback.Step < 1 {
		err = multierr.Append(err, errors.New("backtest.lookback.step 必须大于等于1"))
	}
	return err
}

func (s SourceConfig) validate() error {
	var err error

	switch strings.ToLower(s.Provider) {
	case ProviderExchange:
		if s.Exchange.Name == "" {
			err = multierr.Append(err, errors.New("source.exchange.name 不能为空"))
		}
		if s.Exchange.Timeframe == "" {
			err = multierr.Append(err, errors.New("source.exchange.timeframe 不能为空"))
		}
		err = multierr.Append(err, s.Exchange.Retry.validate("source.exchange.retry"))
	case ProviderYahoo:
		if s.Yahoo.BaseURL == "" {
			err = multierr.Append(err, errors.New("source.yahoo.base_url 不能为空"))
		}
		if s.Yahoo.Timeout <= 0 {
			err = multierr.Append(err, errors.New("source.yahoo.timeout 必须大于0"))
		}
		err = multierr.Append(err, s.Yahoo.Retry.validate("source.yahoo.retry"))
	case ProviderCSV:
		if s.CSV.Dir == "" {
			err = multierr.Append(err, errors.New("source.csv.dir 不能为空"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("source.provider 不支持: %q", s.Provider))
	}

	return err
}

func (r RetryConfig) validate(prefix string) error {
	var err error
	if r.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.max_attempts 必须大于0", prefix))
	}
	if r.MinDelay <= 0 || r.MaxDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.delay 必须为正", prefix))
	}
	if r.MinDelay > r.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("%s.min_delay 不能大于 max_delay", prefix))
	}
	return err
}
