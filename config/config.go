package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/0xPolygonHermez/zkevm-txqueue/chain"
	"github.com/0xPolygonHermez/zkevm-txqueue/circuitbreaker"
	"github.com/0xPolygonHermez/zkevm-txqueue/db"
	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/metrics"
	"github.com/0xPolygonHermez/zkevm-txqueue/monitor"
	"github.com/0xPolygonHermez/zkevm-txqueue/recovery"
	"github.com/0xPolygonHermez/zkevm-txqueue/scheduler"
	"github.com/0xPolygonHermez/zkevm-txqueue/sender"
	"github.com/0xPolygonHermez/zkevm-txqueue/server"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	// FlagCfg is the flag for cfg.
	FlagCfg = "cfg"
	// FlagEnv is the flag for the env file.
	FlagEnv = "env"
	// FlagNoMigrations is the flag for migrations.
	FlagNoMigrations = "no-migrations"

	// EnvPrefix is the prefix of the env vars overriding the configuration,
	// e.g. ZKEVM_TXQUEUE_SERVER_PORT overrides Server.Port
	EnvPrefix = "ZKEVM_TXQUEUE"
)

// Config represents the configuration of the tx queue
type Config struct {
	// Log configuration
	Log log.Config

	// Server configuration
	Server server.Config

	// DB configuration
	DB db.Config

	// Scheduler configuration
	Scheduler scheduler.Config

	// Sender configuration
	Sender sender.Config

	// Monitor configuration
	Monitor monitor.Config

	// Recovery configuration
	Recovery recovery.Config

	// CircuitBreaker configuration
	CircuitBreaker circuitbreaker.Config

	// Chain configuration
	Chain chain.Config

	// Metrics configuration
	Metrics metrics.Config
}

// Default parses the default configuration values.
func Default() (*Config, error) {
	var cfg Config
	v := viper.New()
	v.SetConfigType("toml")

	err := v.ReadConfig(bytes.NewBuffer([]byte(DefaultValues)))
	if err != nil {
		return nil, err
	}
	err = v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.TextUnmarshallerHookFunc()))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads the configuration from the file and the env file set in the cli flags
func Load(ctx *cli.Context) (*Config, error) {
	return LoadFromFs(afero.NewOsFs(), ctx.String(FlagCfg), ctx.String(FlagEnv))
}

// LoadFromFs loads the default values, merges the config file and applies the env
// vars. The vars of the env file don't override the ones already set in the environment
func LoadFromFs(fs afero.Fs, configFilePath string, envFilePath string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if envFilePath != "" {
		if err := loadEnvFile(fs, envFilePath); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewBuffer([]byte(DefaultValues))); err != nil {
		return nil, err
	}

	if configFilePath != "" {
		dirName, fileName := filepath.Split(configFilePath)

		fileExtension := strings.TrimPrefix(filepath.Ext(fileName), ".")
		fileNameWithoutExtension := strings.TrimSuffix(fileName, "."+fileExtension)

		v.AddConfigPath(dirName)
		v.SetConfigName(fileNameWithoutExtension)
		v.SetConfigType(fileExtension)
		err = v.MergeInConfig()
		if err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				log.Infof("config file not found")
			} else {
				log.Infof("error reading config file: %v", err)
				return nil, err
			}
		}
	}

	v.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.SetEnvPrefix(EnvPrefix)

	decodeHooks := []viper.DecoderConfigOption{
		// this allows arrays to be decoded from env var separated by ",", example: MY_VAR="value1,value2,value3"
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(mapstructure.TextUnmarshallerHookFunc(), mapstructure.StringToSliceHookFunc(","))),
	}

	err = v.Unmarshal(&cfg, decodeHooks...)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadEnvFile(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open env file %s: %w", path, err)
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	for key, value := range vars {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	log.Infof("loaded %d vars from env file %s", len(vars), path)
	return nil
}

// Validate checks the values that can't work together
func (cfg *Config) Validate() error {
	if cfg.Sender.QueueSize < cfg.Sender.Workers {
		return errors.New("Sender.QueueSize must be greater or equal than Sender.Workers")
	}
	if cfg.Monitor.QueueSize < cfg.Monitor.Workers {
		return errors.New("Monitor.QueueSize must be greater or equal than Monitor.Workers")
	}
	if cfg.Monitor.RetryWaitInterval.Duration <= 0 {
		return errors.New("Monitor.RetryWaitInterval must be greater than 0")
	}
	if cfg.Monitor.ConfirmationTimeout.Duration <= 0 {
		return errors.New("Monitor.ConfirmationTimeout must be greater than 0")
	}
	if cfg.Scheduler.MaxConcurrent == 0 {
		return errors.New("Scheduler.MaxConcurrent must be greater than 0")
	}
	if cfg.Recovery.BackoffMultiplier < 1 {
		return errors.New("Recovery.BackoffMultiplier must be greater or equal than 1")
	}
	if cfg.CircuitBreaker.Enabled && cfg.CircuitBreaker.FailureThreshold <= 0 {
		return errors.New("CircuitBreaker.FailureThreshold must be greater than 0")
	}

	if len(cfg.Chain.Networks) == 0 {
		return errors.New("at least one network must be configured in Chain.Networks")
	}
	chainIDs := make(map[uint64]struct{}, len(cfg.Chain.Networks))
	for _, network := range cfg.Chain.Networks {
		if network.ChainID == 0 || network.URL == "" {
			return fmt.Errorf("network %d: ChainID and URL are required", network.ChainID)
		}
		if _, found := chainIDs[network.ChainID]; found {
			return fmt.Errorf("network %d configured twice", network.ChainID)
		}
		chainIDs[network.ChainID] = struct{}{}
	}
	return nil
}
