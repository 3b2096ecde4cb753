package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", h)
	assert.True(t, CheckPasswordHash("hunter2", h))
	assert.False(t, CheckPasswordHash("hunter3", h))
}
