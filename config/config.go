package config

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"
)

type AppConfig struct {
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	ServiceName string `env:"SERVICE_NAME,default=fuzzrig"`

	// fuzz project directory, discovered from the working directory when empty
	FuzzDir string `env:"FUZZ_DIR"`

	Toolchain ToolchainConfig
	Run       RunConfig

	DatabaseURL        string `env:"DATABASE_URL"`
	RedisUrl           string `env:"REDIS_URL"`
	RedisSentinelHosts string `env:"REDIS_SENTINEL_HOSTS"`
	RedisMasterName    string `env:"REDIS_MASTER"`
	RabbitMQURL        string `env:"RABBITMQ_URL"`
	OtelEndpoint       string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsTextfile    string `env:"METRICS_TEXTFILE"`
}

// ToolchainConfig is the ambient toolchain environment, captured once.
type ToolchainConfig struct {
	Cargo          string `env:"CARGO,default=cargo"`
	Rustc          string `env:"RUSTC,default=rustc"`
	RustcBootstrap string `env:"RUSTC_BOOTSTRAP"`
	RustFlags      string `env:"RUSTFLAGS"`
	ASanOptions    string `env:"ASAN_OPTIONS"`
	TSanOptions    string `env:"TSAN_OPTIONS"`
	LLVMTools      string `env:"FUZZRIG_LLVM_TOOLS"`
}

type RunConfig struct {
	Timeout   time.Duration `env:"FUZZRIG_RUN_TIMEOUT,default=0s"`
	KillGrace time.Duration `env:"FUZZRIG_KILL_GRACE,default=5s"`
	MaxStalls int           `env:"FUZZRIG_MAX_STALLS,default=8"`
}

func (t ToolchainConfig) Bootstrap() bool {
	return t.RustcBootstrap != ""
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config, err := Load(context.Background(), envconfig.OsLookuper())
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	return config
}

// Load processes the configuration from the given lookuper.
func Load(ctx context.Context, lookuper envconfig.Lookuper) (*AppConfig, error) {
	var config AppConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &config,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}
	return &config, nil
}
