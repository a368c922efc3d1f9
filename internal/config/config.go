package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel         string
	MetricsAddr      string
	APIAddr          string
	RPCTimeout       time.Duration
	StrictInvariants bool

	Store      StoreConfig
	Lease      LeaseConfig
	NATS       NATSConfig
	ClickHouse ClickHouseConfig
	Indexer    IndexerConfig
	Oracle     OracleConfig
	Refresher  RefresherConfig

	Chains []ChainConfig
}

type StoreConfig struct {
	Driver string
	DSN    string
}

type LeaseConfig struct {
	Driver    string
	RedisAddr string
	TTL       time.Duration
	Prefix    string
}

// NATSConfig is optional; an empty URL disables snapshot publishing.
type NATSConfig struct {
	URL     string
	Subject string
}

// ClickHouseConfig is optional; an empty DSN disables the swap series.
type ClickHouseConfig struct {
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
}

type IndexerConfig struct {
	BatchSize     uint64
	AddressChunk  int
	MaxRetries    int
	RetryBackoff  time.Duration
	PollInterval  time.Duration
	Confirmations uint64
	Follow        bool
	ToBlock       uint64
	Archive       string
	DecodeErrors  string
	Checkpoint    string
	Topic0Map     map[string]string
}

type OracleConfig struct {
	Lookback     time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
}

type RefresherConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// ChainConfig is one indexed network.
type ChainConfig struct {
	Name       string `mapstructure:"name"`
	ChainID    uint64 `mapstructure:"chain-id"`
	RPC        string `mapstructure:"rpc"`
	Airlock    string `mapstructure:"airlock"`
	StartBlock uint64 `mapstructure:"start-block"`
	EthUSDFeed string `mapstructure:"eth-usd-feed"`
}

// flagKeys maps command-line flag names to nested config keys.
var flagKeys = map[string]string{
	"store-driver":  "store.driver",
	"store-dsn":     "store.dsn",
	"lease-driver":  "lease.driver",
	"redis-addr":    "lease.redis-addr",
	"nats-url":      "nats.url",
	"clickhouse":    "clickhouse.dsn",
	"batch-size":    "indexer.batch-size",
	"max-retries":   "indexer.max-retries",
	"retry-backoff": "indexer.retry-backoff",
	"confirmations": "indexer.confirmations",
	"follow":        "indexer.follow",
	"to":            "indexer.to-block",
	"archive":       "indexer.archive",
	"checkpoint":    "indexer.checkpoint",
	"topic0-map":    "indexer.topic0-map",
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel:         v.GetString("log-level"),
		MetricsAddr:      v.GetString("metrics-addr"),
		APIAddr:          v.GetString("api-addr"),
		RPCTimeout:       v.GetDuration("rpc-timeout"),
		StrictInvariants: v.GetBool("strict-invariants"),
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
			DSN:    v.GetString("store.dsn"),
		},
		Lease: LeaseConfig{
			Driver:    strings.ToLower(v.GetString("lease.driver")),
			RedisAddr: v.GetString("lease.redis-addr"),
			TTL:       v.GetDuration("lease.ttl"),
			Prefix:    v.GetString("lease.prefix"),
		},
		NATS: NATSConfig{
			URL:     v.GetString("nats.url"),
			Subject: v.GetString("nats.subject"),
		},
		ClickHouse: ClickHouseConfig{
			DSN:           v.GetString("clickhouse.dsn"),
			BatchSize:     v.GetInt("clickhouse.batch-size"),
			FlushInterval: v.GetDuration("clickhouse.flush-interval"),
		},
		Indexer: IndexerConfig{
			BatchSize:     v.GetUint64("indexer.batch-size"),
			AddressChunk:  v.GetInt("indexer.address-chunk"),
			MaxRetries:    v.GetInt("indexer.max-retries"),
			RetryBackoff:  v.GetDuration("indexer.retry-backoff"),
			PollInterval:  v.GetDuration("indexer.poll-interval"),
			Confirmations: v.GetUint64("indexer.confirmations"),
			Follow:        v.GetBool("indexer.follow"),
			ToBlock:       v.GetUint64("indexer.to-block"),
			Archive:       v.GetString("indexer.archive"),
			DecodeErrors:  v.GetString("indexer.decode-errors"),
			Checkpoint:    v.GetString("indexer.checkpoint"),
			Topic0Map:     getStringMap(v, "indexer.topic0-map"),
		},
		Oracle: OracleConfig{
			Lookback:     v.GetDuration("oracle.lookback"),
			Timeout:      v.GetDuration("oracle.timeout"),
			PollInterval: v.GetDuration("oracle.poll-interval"),
		},
		Refresher: RefresherConfig{
			Interval:    v.GetDuration("refresher.interval"),
			BatchSize:   v.GetInt("refresher.batch-size"),
			Concurrency: v.GetInt("refresher.concurrency"),
		},
	}

	chains, err := loadChains(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Chains = chains

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("metrics-addr", ":9100")
	v.SetDefault("api-addr", ":8080")
	v.SetDefault("rpc-timeout", 10*time.Second)
	v.SetDefault("strict-invariants", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "./data/poolscope.db")
	v.SetDefault("lease.driver", "local")
	v.SetDefault("lease.ttl", 30*time.Second)
	v.SetDefault("lease.prefix", "poolscope:lease:")
	v.SetDefault("nats.subject", "poolscope.pools")
	v.SetDefault("clickhouse.batch-size", 500)
	v.SetDefault("clickhouse.flush-interval", 2*time.Second)

	v.SetDefault("indexer.batch-size", uint64(2000))
	v.SetDefault("indexer.address-chunk", 500)
	v.SetDefault("indexer.max-retries", 5)
	v.SetDefault("indexer.retry-backoff", 500*time.Millisecond)
	v.SetDefault("indexer.poll-interval", 5*time.Second)
	v.SetDefault("indexer.confirmations", uint64(0))
	v.SetDefault("indexer.checkpoint", "./data/checkpoint.json")

	v.SetDefault("oracle.lookback", 10*time.Minute)
	v.SetDefault("oracle.timeout", 2*time.Second)
	v.SetDefault("oracle.poll-interval", time.Minute)

	v.SetDefault("refresher.interval", time.Minute)
	v.SetDefault("refresher.batch-size", 100)
	v.SetDefault("refresher.concurrency", 8)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key := f.Name
		if nested, ok := flagKeys[f.Name]; ok {
			key = nested
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

// loadChains reads the chains list. Without one, a single chain may be given
// through the flat rpc/chain-id/airlock keys.
func loadChains(v *viper.Viper) ([]ChainConfig, error) {
	var chains []ChainConfig
	if v.IsSet("chains") {
		if err := v.UnmarshalKey("chains", &chains); err != nil {
			return nil, fmt.Errorf("decode chains: %w", err)
		}
	}
	if len(chains) == 0 && v.GetString("rpc") != "" {
		chains = append(chains, ChainConfig{
			Name:       v.GetString("chain-name"),
			ChainID:    v.GetUint64("chain-id"),
			RPC:        v.GetString("rpc"),
			Airlock:    v.GetString("airlock"),
			StartBlock: v.GetUint64("start-block"),
			EthUSDFeed: v.GetString("eth-usd-feed"),
		})
	}
	for i := range chains {
		if chains[i].Name == "" {
			chains[i].Name = strconv.FormatUint(chains[i].ChainID, 10)
		}
	}
	return chains, nil
}

// Validate checks driver names and every chain entry.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return errors.New("store dsn is required")
	}
	switch c.Lease.Driver {
	case "local":
	case "redis":
		if c.Lease.RedisAddr == "" {
			return errors.New("lease redis-addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown lease driver %q", c.Lease.Driver)
	}

	seen := make(map[uint64]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ChainID == 0 {
			return fmt.Errorf("chain %s: chain-id is required", ch.Name)
		}
		if seen[ch.ChainID] {
			return fmt.Errorf("chain %d configured twice", ch.ChainID)
		}
		seen[ch.ChainID] = true
		if ch.RPC == "" {
			return fmt.Errorf("chain %s: rpc is required", ch.Name)
		}
		if !common.IsHexAddress(ch.Airlock) {
			return fmt.Errorf("chain %s: invalid airlock address %q", ch.Name, ch.Airlock)
		}
		if ch.EthUSDFeed != "" && !common.IsHexAddress(ch.EthUSDFeed) {
			return fmt.Errorf("chain %s: invalid eth-usd-feed address %q", ch.Name, ch.EthUSDFeed)
		}
	}
	return nil
}

// ChainIDs lists the configured chain ids in order.
func (c Config) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.Chains))
	for _, ch := range c.Chains {
		ids = append(ids, ch.ChainID)
	}
	return ids
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (int64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}

	if isNumeric(input) {
		return strconv.ParseInt(input, 10, 64)
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return tm.Unix(), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	case []string:
		return parseStringMap(strings.Join(typed, ","))
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
