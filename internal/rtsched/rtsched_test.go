package rtsched

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	yc600 "github.com/tve/yc600bridge"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultMaxPollRetries, cfg.MaxPollRetries)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, defaultEpoch, cfg.Epoch)
}

func TestConfigDefaultsPreservesExplicitValues(t *testing.T) {
	explicit := Config{
		PollInterval:   time.Minute,
		MaxPollRetries: 2,
		RetryDelay:     time.Second,
	}
	cfg := explicit.withDefaults()
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 2, cfg.MaxPollRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
}

// retryableErr builds a *yc600.Error of the given kind the same way Core's
// methods do, so retryable's KindOf-based classification is exercised
// against the real error type rather than the Is-only sentinel wrapper.
func retryableErr(kind yc600.ErrorKind) error {
	return &yc600.Error{Op: "test_op", Kind: kind}
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, retryable(retryableErr(yc600.NoRoute)))
	assert.True(t, retryable(retryableErr(yc600.Timeout)))
	assert.True(t, retryable(retryableErr(yc600.DataError)))
	assert.True(t, retryable(retryableErr(yc600.Corrupt)))
	assert.False(t, retryable(retryableErr(yc600.InvalidArg)))
	assert.False(t, retryable(retryableErr(yc600.RadioUnhealthy)))
	assert.False(t, retryable(fmt.Errorf("unrelated error")))
}
