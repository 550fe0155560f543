package types

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsByCode(t *testing.T) {
	err := fmt.Errorf("login: %w", Wrap(CodeNetwork, "opaque.step", io.ErrUnexpectedEOF))

	assert.True(t, HasCode(err, CodeNetwork))
	assert.False(t, HasCode(err, CodeServer))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, CodeNetwork, CodeOf(err))
	assert.Equal(t, CodeServer, CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestError_Message(t *testing.T) {
	e := New(CodeDeviceLimit, "device.pair", "max 10")
	assert.Equal(t, "device.pair: DEVICE_LIMIT_REACHED: max 10", e.Error())
	assert.Equal(t, "REPLAY_SUSPECTED", E(CodeReplaySuspected).Error())
}
