package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Purse     PurseConfig     `mapstructure:"purse"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Confirmer ConfirmerConfig `mapstructure:"confirmer"`
	Store     StoreConfig     `mapstructure:"store"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
	GrpcPort string `mapstructure:"grpc_port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis", "kafka", "nats" 或 "none"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Stream  string `mapstructure:"stream"`
	Subject string `mapstructure:"subject"`
}

// ChainConfig 节点与交易参数
type ChainConfig struct {
	RpcUrl           string        `mapstructure:"rpc_url"`
	ChainID          int64         `mapstructure:"chain_id"` // 0 表示从节点读取
	GasPriceGwei     string        `mapstructure:"gas_price_gwei"`
	GasLimit         uint64        `mapstructure:"gas_limit"`
	GasBufferPercent uint64        `mapstructure:"gas_buffer_percent"`
	ProxyFactory     string        `mapstructure:"proxy_factory"`
	RpcTimeout       time.Duration `mapstructure:"rpc_timeout"`
	RpcMaxRetries    int           `mapstructure:"rpc_max_retries"`
}

// PurseConfig 签名钱包池
type PurseConfig struct {
	Mnemonic        string        `mapstructure:"mnemonic"`
	KeystorePath    string        `mapstructure:"keystore_path"`
	Password        string        `mapstructure:"password"` // 通常通过环境变量 PURSE_PASSWORD 传入
	Children        int           `mapstructure:"children"`
	FundAmount      string        `mapstructure:"fund_amount"` // ETH
	MinBalance      string        `mapstructure:"min_balance"` // ETH
	FundingTimeout  time.Duration `mapstructure:"funding_timeout"`
	ReplenishSpec   string        `mapstructure:"replenish_spec"`
	DrainOnShutdown bool          `mapstructure:"drain_on_shutdown"`
}

type GuardConfig struct {
	Backend string        `mapstructure:"backend"` // "memory" 或 "redis"
	MaxAge  time.Duration `mapstructure:"max_age"`
}

type ConfirmerConfig struct {
	Mode         string        `mapstructure:"mode"` // "poller" 或 "asynq"
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "memory" 或 "postgres"
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	if err := Global.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

// Validate 检查无法安全回退的配置项
func (c Config) Validate() error {
	if c.Guard.MaxAge <= 0 {
		return fmt.Errorf("guard.max_age 必须大于 0，当前为 %s", c.Guard.MaxAge)
	}
	switch c.Guard.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("未知的 guard.backend: %q", c.Guard.Backend)
	}
	return nil
}

// DSN 返回 gorm 使用的 PostgreSQL 连接串
func (c DBConfig) DSN() string {
	return "host=" + c.Host + " user=" + c.User + " password=" + c.Password +
		" dbname=" + c.Name + " port=" + c.Port + " sslmode=disable TimeZone=UTC"
}

// URL 返回 golang-migrate 使用的连接串
func (c DBConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.Name + "?sslmode=disable"
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")
	viper.SetDefault("app.grpc_port", "50051")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "relay_user")
	viper.SetDefault("db.password", "relay_password")
	viper.SetDefault("db.name", "relay_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "relay_events")

	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("nats.stream", "RELAY")
	viper.SetDefault("nats.subject", "relay.events")

	viper.SetDefault("chain.rpc_url", "http://localhost:8545")
	viper.SetDefault("chain.chain_id", 0)
	viper.SetDefault("chain.gas_price_gwei", "2")
	viper.SetDefault("chain.gas_limit", 1000000)
	viper.SetDefault("chain.gas_buffer_percent", 20)
	viper.SetDefault("chain.rpc_timeout", 10*time.Second)
	viper.SetDefault("chain.rpc_max_retries", 5)

	viper.SetDefault("purse.keystore_path", "purse.json")
	viper.SetDefault("purse.children", 5)
	viper.SetDefault("purse.fund_amount", "0.5")
	viper.SetDefault("purse.min_balance", "0.1")
	viper.SetDefault("purse.funding_timeout", 2*time.Minute)
	viper.SetDefault("purse.replenish_spec", "@every 5m")
	viper.SetDefault("purse.drain_on_shutdown", false)

	viper.SetDefault("guard.backend", "memory")
	viper.SetDefault("guard.max_age", 10*time.Minute)

	viper.SetDefault("confirmer.mode", "poller")
	viper.SetDefault("confirmer.poll_interval", 2*time.Second)
	viper.SetDefault("confirmer.concurrency", 10)

	viper.SetDefault("store.driver", "memory")
}
