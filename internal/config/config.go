// Package config はCLIフラグ(github.com/alecthomas/kong)とYAML設定ファイル
// (gopkg.in/yaml.v3)を合成し、プロキシの実行時設定を組み立てる.
// kidoz-vulners-proxy-go/internal/config の CLI 構造体 + Load パターンを
// YAML向けに倣い、devforth-wait0/internal/wait0.LoadConfigのネスト構造
// + デフォルト値の当て方を取り入れる. spec.mdのCLI契約 (位置引数1個の
// ポート番号、欠落/非数値でexit code 1) は最初の位置引数としてそのまま残す.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CLI はkongでパースされるコマンドライン引数.
type CLI struct {
	Port int `kong:"arg,help='Listening port.'"`

	Config        string        `kong:"help='Path to YAML config file.',default='./configs/proxy.yaml'"`
	CacheSize     int           `kong:"help='Maximum cache entries.',default='0'"`
	SweepInterval time.Duration `kong:"help='Cache expiry sweep interval.',default='0s'"`
	LogDir        string        `kong:"help='Directory for the operational log.',default=''"`
	MetricsPort   int           `kong:"help='Metrics HTTP listener port.',default='0'"`
	RateLimit     float64       `kong:"help='Per-client-IP requests/second; 0 disables rate limiting.',default='0'"`
	BlockList     string        `kong:"help='Path to the access-control blocklist YAML file.',default='./configs/blocked.yaml'"`
}

// Config is the merged runtime configuration: YAML file defaults,
// overridden by any CLI flag explicitly set.
type Config struct {
	Port           int    `yaml:"port"`
	TransactionLog string `yaml:"transaction_log"`
	LogDir         string `yaml:"log_dir"`
	MetricsPort    int    `yaml:"metrics_port"`
	BlockList      string `yaml:"block_list"`

	Cache struct {
		MaxEntries    int           `yaml:"max_entries"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"cache"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Defaults matches spec.md §6's construction-time cache parameters
// (max_entries=50, sweep interval=300s) plus the ambient-stack knobs
// SPEC_FULL.md §2 adds.
func Defaults() Config {
	var c Config
	c.Port = 10080
	c.TransactionLog = "/var/log/erss/proxy.log"
	c.LogDir = "./logs"
	c.MetricsPort = 10081
	c.BlockList = "./configs/blocked.yaml"
	c.Cache.MaxEntries = 50
	c.Cache.SweepInterval = 300 * time.Second
	c.RateLimit.Burst = 5
	return c
}

// Load reads the YAML file at path (if it exists; a missing file simply
// yields the defaults) and applies any CLI overrides on top.
func Load(path string, cli *CLI) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	if cli == nil {
		return cfg, nil
	}

	cfg.Port = cli.Port
	if cli.CacheSize > 0 {
		cfg.Cache.MaxEntries = cli.CacheSize
	}
	if cli.SweepInterval > 0 {
		cfg.Cache.SweepInterval = cli.SweepInterval
	}
	if cli.LogDir != "" {
		cfg.LogDir = cli.LogDir
	}
	if cli.MetricsPort > 0 {
		cfg.MetricsPort = cli.MetricsPort
	}
	if cli.RateLimit > 0 {
		cfg.RateLimit.RequestsPerSecond = cli.RateLimit
	}
	if cli.BlockList != "" {
		cfg.BlockList = cli.BlockList
	}

	return cfg, nil
}
