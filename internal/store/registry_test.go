package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAdapter struct{ name string }

func (f failingAdapter) Name() string { return f.name }

func (f failingAdapter) Connect(context.Context, AdapterConfig) (AdapterConnection, error) {
	return nil, errors.New("dial refused")
}

func TestOpenAdapter(t *testing.T) {
	RegisterAdapter(failingAdapter{name: "test-failing"})
	assert.Contains(t, Registered(), "test-failing")

	_, err := OpenAdapter(context.Background(), AdapterConfig{Name: "TEST-FAILING"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial refused")

	_, err = OpenAdapter(context.Background(), AdapterConfig{Name: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test-failing")

	assert.Panics(t, func() { RegisterAdapter(failingAdapter{name: "test-failing"}) })
}
