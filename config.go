package msgpump

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the file/env-loadable form of Options, for hosts that wire
// the pump from a config file rather than code.
type Config struct {
	WorkerCount     int
	MaxConcurrency  int
	ShutdownTimeout time.Duration

	MinWait      time.Duration
	MaxWait      time.Duration
	ErrorMinWait time.Duration
	ErrorMaxWait time.Duration
	Multiplier   float64

	ReleaseTokenOnEmpty bool

	ReceiveRate  float64
	ReceiveBurst int

	PinWorkers bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:     DefaultWorkerCount,
		MaxConcurrency:  DefaultWorkerCount,
		ShutdownTimeout: DefaultShutdownTimeout,
		MinWait:         DefaultMinWait,
		MaxWait:         DefaultMaxWait,
		ErrorMinWait:    DefaultErrorMinWait,
		ErrorMaxWait:    DefaultErrorMaxWait,
		Multiplier:      DefaultMultiplier,
	}
}

// Verify checks the configuration for values the pump cannot run with.
func (c *Config) Verify() error {
	if c.WorkerCount < 1 {
		return errors.New("workerCount must be at least 1")
	}
	if c.MaxConcurrency < 1 {
		return errors.New("maxConcurrency must be at least 1")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdownTimeout must not be negative")
	}
	if c.MinWait > c.MaxWait {
		return fmt.Errorf("minWait (%s) exceeds maxWait (%s)", c.MinWait, c.MaxWait)
	}
	if c.ErrorMinWait > c.ErrorMaxWait {
		return fmt.Errorf("errorMinWait (%s) exceeds errorMaxWait (%s)", c.ErrorMinWait, c.ErrorMaxWait)
	}
	if c.Multiplier <= 1 {
		return errors.New("multiplier must be greater than 1")
	}
	if c.ReceiveRate < 0 {
		return errors.New("receiveRate must not be negative")
	}
	return nil
}

// Options converts the config into pump Options.
func (c *Config) Options() Options {
	return Options{
		WorkerCount:         c.WorkerCount,
		MaxConcurrency:      c.MaxConcurrency,
		ShutdownTimeout:     c.ShutdownTimeout,
		MinWait:             c.MinWait,
		MaxWait:             c.MaxWait,
		ErrorMinWait:        c.ErrorMinWait,
		ErrorMaxWait:        c.ErrorMaxWait,
		Multiplier:          c.Multiplier,
		ReleaseTokenOnEmpty: c.ReleaseTokenOnEmpty,
		ReceiveRate:         c.ReceiveRate,
		ReceiveBurst:        c.ReceiveBurst,
		PinWorkers:          c.PinWorkers,
	}
}

// ReadConfig returns the pump configuration based on the values in a
// 'msgpump.yaml' file, looked up in the current working directory and
// '$HOME/.msgpump'. If no file is present the defaults are returned.
func ReadConfig() (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigName("msgpump")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.msgpump")
	v.SetEnvPrefix("MSGPUMP")
	v.AutomaticEnv()
	v.SetTypeByDefaultValue(true)

	err := v.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load pump config: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pump config: %w", err)
	}

	return config, nil
}
