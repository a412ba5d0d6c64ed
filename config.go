package rasterflow

import (
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rasterflow/rasterflow/logger"
)

// Duration is a time.Duration that decodes from toml strings like "5ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds a dataset's tunables. The zero value is not usable; start
// from NewConfig.
type Config struct {
	// Worker pool sizes.
	ComputeConcurrency  int `toml:"compute-concurrency"`
	MergeConcurrency    int `toml:"merge-concurrency"`
	IOConcurrency       int `toml:"io-concurrency"`
	ResampleConcurrency int `toml:"resample-concurrency"`

	// TickInterval is the scheduler's idle sleep.
	TickInterval Duration `toml:"tick-interval"`

	// IORetryCap bounds retries of hash and write failures per tile and of
	// read failures per production array before they surface to the
	// depending queries.
	IORetryCap int `toml:"io-retry-cap"`

	// TileSize is the default production tile side for queries that do not
	// set one.
	TileSize int `toml:"production-tile-size"`

	Logging logger.Config `toml:"logging"`
}

// NewConfig returns a Config with defaults.
func NewConfig() Config {
	return Config{
		ComputeConcurrency:  runtime.GOMAXPROCS(0),
		MergeConcurrency:    2,
		IOConcurrency:       4,
		ResampleConcurrency: 2,
		TickInterval:        Duration{5 * time.Millisecond},
		IORetryCap:          3,
		TileSize:            256,
		Logging:             logger.NewConfig(),
	}
}

// DecodeConfigFile loads a toml config over the defaults.
func DecodeConfigFile(path string) (Config, error) {
	c := NewConfig()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
