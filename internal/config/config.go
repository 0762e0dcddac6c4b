package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "momentum"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("backtest.instruments", []string{
		"AAPL", "AMZN", "MSFT", "TSLA", "GOOGL", "BP", "GLD", "SPOT", "BKNG", "META",
	})
	v.SetDefault("backtest.start", "2010-01-01")
	v.SetDefault("backtest.end", "2020-01-01")
	v.SetDefault("backtest.commission", 0.001)
	v.SetDefault("backtest.strategy", StrategyMomentum)
	v.SetDefault("backtest.lookback.min", 5)
	v.SetDefault("backtest.lookback.max", 250)
	v.SetDefault("backtest.lookback.step", 5)
	v.SetDefault("backtest.ma.fast", 20)
	v.SetDefault("backtest.ma.slow", 50)
	v.SetDefault("backtest.workers", 4)

	v.SetDefault("source.provider", ProviderYahoo)
	v.SetDefault("source.exchange.name", "binanceusdm")
	v.SetDefault("source.exchange.timeframe", "1d")
	v.SetDefault("source.exchange.page_limit", 1000)
	v.SetDefault("source.exchange.use_sandbox", false)
	v.SetDefault("source.exchange.retry.max_attempts", 5)
	v.SetDefault("source.exchange.retry.min_delay", "500ms")
	v.SetDefault("source.exchange.retry.max_delay", "5s")
	v.SetDefault("source.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("source.yahoo.timeout", "15s")
	v.SetDefault("source.yahoo.retry.max_attempts", 3)
	v.SetDefault("source.yahoo.retry.min_delay", "500ms")
	v.SetDefault("source.yahoo.retry.max_delay", "4s")
	v.SetDefault("source.csv.dir", "data/prices")
	v.SetDefault("source.cache", true)

	v.SetDefault("database.path", "data/momentum.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("report.output_dir", "out")
	v.SetDefault("report.charts", true)
	v.SetDefault("report.telegram.enabled", false)
	v.SetDefault("report.narrative.enabled", false)
	v.SetDefault("report.narrative.base_url", "https://api.openai.com/v1")
	v.SetDefault("report.narrative.model", "gpt-4.1")
	v.SetDefault("report.narrative.timeout", "15s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.DateOnly),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
