package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree shared by all binaries. Values come
// from a YAML file; the most deployment-sensitive fields can additionally be
// overridden through environment variables so containers do not need a
// rendered config file per environment.
type Config struct {
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Handler   HandlerConfig   `yaml:"handler"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	ReservationTopic string   `yaml:"reservationTopic"`
	SyncTopic        string   `yaml:"syncTopic"`
	GroupID          string   `yaml:"groupId"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type ZookeeperConfig struct {
	Servers []string `yaml:"servers"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// Duration decodes human-readable YAML values like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// HandlerConfig tunes the reservation request handler and the lock manager.
type HandlerConfig struct {
	ProcessingTimeout Duration `yaml:"processingTimeout"`
	LockTTL           Duration `yaml:"lockTTL"`
	RedeliveryDelay   Duration `yaml:"redeliveryDelay"`
}

// SchedulerConfig tunes the periodic reconciliation fan-out.
type SchedulerConfig struct {
	Period    Duration `yaml:"period"`
	BatchSize int      `yaml:"batchSize"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and returns the resulting config.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}

	applyEnvOverrides(cfg)
	if cfg.Scheduler.BatchSize <= 0 {
		return nil, errors.Errorf("scheduler.batchSize must be positive, got %d", cfg.Scheduler.BatchSize)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:          []string{"localhost:9092"},
			ReservationTopic: "reservation-requests",
			SyncTopic:        "reservation-sync",
			GroupID:          "reservation-service",
		},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		MySQL:     MySQLConfig{DSN: "root:root@tcp(localhost:3306)/stockhold?parseTime=true"},
		Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}},
		Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
		Handler: HandlerConfig{
			ProcessingTimeout: Duration(10 * time.Second),
			LockTTL:           Duration(30 * time.Second),
			RedeliveryDelay:   Duration(2 * time.Second),
		},
		Scheduler: SchedulerConfig{
			Period:    Duration(time.Minute),
			BatchSize: 100,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.MySQL.DSN = v
	}
	if v := os.Getenv("ZK_SERVERS"); v != "" {
		cfg.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Nacos.ServerAddrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Nacos.Group = v
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Jaeger.Endpoint = v
	}
}
