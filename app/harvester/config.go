package harvester

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/canopy-network/subnetx/pkg/utils"
	"github.com/robfig/cron/v3"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Endpoints    string
	OutputDir    string
	BatchSize    int
	FetchTimeout time.Duration
	MinHeight    uint64
	Cron         string

	MetricsAddr   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RPCRPS   int
	RPCBurst int
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// LoadConfig reads and validates the configuration. Values that are set but
// unparsable are errors rather than silently replaced by defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		Endpoints:     utils.Env("WS_URI", "ws://127.0.0.1:9944"),
		OutputDir:     utils.Env("OUTPUT_DIR", "backtest/data"),
		Cron:          os.Getenv("HARVEST_CRON"),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	var err error
	if cfg.RedisDB, err = strictEnv("REDIS_DB", 0, strconv.Atoi); err != nil {
		return cfg, err
	}
	if cfg.RedisDB < 0 {
		return cfg, fmt.Errorf("REDIS_DB must not be negative, got %d", cfg.RedisDB)
	}
	if cfg.RPCRPS, err = strictEnv("RPC_RPS", 200, strconv.Atoi); err != nil {
		return cfg, err
	}
	if cfg.RPCBurst, err = strictEnv("RPC_BURST", 400, strconv.Atoi); err != nil {
		return cfg, err
	}
	if cfg.RPCRPS <= 0 || cfg.RPCBurst <= 0 {
		return cfg, fmt.Errorf("RPC_RPS and RPC_BURST must be greater than 0, got %d and %d", cfg.RPCRPS, cfg.RPCBurst)
	}
	if cfg.BatchSize, err = strictEnv("BATCH_SIZE", 16, strconv.Atoi); err != nil {
		return cfg, err
	}
	if cfg.BatchSize <= 0 {
		return cfg, fmt.Errorf("BATCH_SIZE must be greater than 0, got %d", cfg.BatchSize)
	}
	if cfg.FetchTimeout, err = strictEnv("FETCH_TIMEOUT", 30*time.Second, time.ParseDuration); err != nil {
		return cfg, err
	}
	if cfg.FetchTimeout < 0 {
		return cfg, fmt.Errorf("FETCH_TIMEOUT must not be negative, got %s", cfg.FetchTimeout)
	}
	if cfg.MinHeight, err = strictEnv("MIN_HEIGHT", 1, func(s string) (uint64, error) {
		return strconv.ParseUint(s, 10, 64)
	}); err != nil {
		return cfg, err
	}
	if len(utils.SplitList(cfg.Endpoints)) == 0 {
		return cfg, fmt.Errorf("WS_URI must name at least one endpoint")
	}
	if cfg.Cron != "" {
		if _, err := cronParser.Parse(cfg.Cron); err != nil {
			return cfg, fmt.Errorf("HARVEST_CRON %q: %w", cfg.Cron, err)
		}
	}
	return cfg, nil
}

func strictEnv[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	out, err := parse(v)
	if err != nil {
		return def, fmt.Errorf("%s %q: %w", key, v, err)
	}
	return out, nil
}
