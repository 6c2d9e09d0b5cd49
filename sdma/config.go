package sdma

import (
	"fmt"
	"time"

	binutils "github.com/jfoster/binary-utilities"
	"github.com/pkg/math"

	"github.com/sdmakit/sdma/core/nnduration"
)

// Limits and defaults.
const (
	MinDescCount     = 16
	MaxDescCount     = 65536
	DefaultDescCount = 2048

	MaxAHGEntries = 32

	DefaultWakeupBatch = 20

	DefaultHaltTimeout  nnduration.Milliseconds = 10
	DefaultCleanTimeout nnduration.Milliseconds = 10
	DefaultPollInterval nnduration.Microseconds = 100
)

// AlignDescCount adjusts descriptor count to a power of two between MinDescCount and MaxDescCount.
// DefaultDescCount is used if input is zero.
func AlignDescCount(count int) int {
	if count <= 0 {
		return DefaultDescCount
	}
	count = int(binutils.NextPowerOfTwo(int64(count)))
	return math.MinInt(math.MaxInt(MinDescCount, count), MaxDescCount)
}

// Config contains Engine configuration.
type Config struct {
	// DescCount is the descriptor ring capacity, adjusted by AlignDescCount.
	DescCount int `json:"descCount,omitempty"`

	// DisableAHG administratively disables header compression.
	DisableAHG bool `json:"disableAHG,omitempty"`
	// AHGEntries is the number of header compression slots, at most MaxAHGEntries.
	AHGEntries int `json:"ahgEntries,omitempty"`

	// DisableHeadDMA reads hardware head from CSR instead of the head write-back word.
	DisableHeadDMA bool `json:"disableHeadDMA,omitempty"`
	// DisableHeadCheck skips sanity checking of hardware head.
	DisableHeadCheck bool `json:"disableHeadCheck,omitempty"`

	// HaltTimeout bounds the wait for hardware halt.
	HaltTimeout nnduration.Milliseconds `json:"haltTimeout,omitempty"`
	// CleanTimeout bounds the wait for hardware clean-up.
	CleanTimeout nnduration.Milliseconds `json:"cleanTimeout,omitempty"`
	// PollInterval is the sampling interval of hardware status polls.
	PollInterval nnduration.Microseconds `json:"pollInterval,omitempty"`

	// WakeupBatch is the maximum number of parked producers woken per progress pass.
	WakeupBatch int `json:"wakeupBatch,omitempty"`

	// ProgressCheckInterval enables a timer that scans for progress while requests are in flight.
	// Zero disables the timer.
	ProgressCheckInterval nnduration.Milliseconds `json:"progressCheckInterval,omitempty"`
}

func (cfg *Config) applyDefaults() {
	cfg.DescCount = AlignDescCount(cfg.DescCount)
	if cfg.AHGEntries <= 0 || cfg.AHGEntries > MaxAHGEntries {
		cfg.AHGEntries = MaxAHGEntries
	}
	if cfg.WakeupBatch <= 0 {
		cfg.WakeupBatch = DefaultWakeupBatch
	}
}

// Validate checks configuration values that cannot be corrected by defaults.
func (cfg Config) Validate() error {
	if cfg.DescCount < 0 || cfg.DescCount > MaxDescCount {
		return fmt.Errorf("descCount %d out of range", cfg.DescCount)
	}
	if cfg.AHGEntries < 0 || cfg.AHGEntries > MaxAHGEntries {
		return fmt.Errorf("ahgEntries %d out of range", cfg.AHGEntries)
	}
	return nil
}

func (cfg Config) haltTimeout() time.Duration {
	return cfg.HaltTimeout.DurationOr(DefaultHaltTimeout)
}

func (cfg Config) cleanTimeout() time.Duration {
	return cfg.CleanTimeout.DurationOr(DefaultCleanTimeout)
}

func (cfg Config) pollInterval() time.Duration {
	return cfg.PollInterval.DurationOr(DefaultPollInterval)
}
