package coordinator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_ValidateRejectsNegativeTunable(t *testing.T) {
	err := Config{ConsumerBlockingQueueSize: -1}.validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConfig))
}

func TestConfig_ValidateAllowsZeroForDefaulting(t *testing.T) {
	require.NoError(t, Config{}.validate())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	c, err := New(Config{OutputAckTimeoutMs: -5}, &fakeInputLog{}, &fakeOutputLog{}, nil, nil, nil)
	require.Nil(t, c)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConfig))
}
