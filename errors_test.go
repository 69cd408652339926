package yc600

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	e1 := newErr("poll_inverter", Timeout, nil)
	assert.Equal(t, "yc600: poll_inverter: Timeout", e1.Error())

	cause := fmt.Errorf("boom")
	e2 := newErr("poll_inverter", DataError, cause)
	assert.Contains(t, e2.Error(), "DataError")
	assert.Contains(t, e2.Error(), "boom")
	assert.Equal(t, cause, errors.Unwrap(e2))
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := newErr("pair_inverter", NoRoute, nil)
	assert.True(t, errors.Is(err, AsKind(NoRoute)))
	assert.False(t, errors.Is(err, AsKind(Timeout)))
}

func TestKindOf(t *testing.T) {
	err := newErr("poll_inverter", RadioUnhealthy, nil)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, RadioUnhealthy, kind)

	_, ok = KindOf(fmt.Errorf("plain error"))
	assert.False(t, ok)

	_, ok = KindOf(nil)
	assert.False(t, ok)
}

func TestErrorKindStringUnknown(t *testing.T) {
	var k ErrorKind = 99
	assert.Equal(t, "Unknown", k.String())
}
