package tokencount_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/toolrouter/internal/tokencount"
)

func TestCount_NonEmptyTextYieldsPositiveCount(t *testing.T) {
	c, err := tokencount.New("")
	require.NoError(t, err)

	n, err := c.Count("hello world, this is a tool description")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestCount_EmptyTextYieldsZero(t *testing.T) {
	c, err := tokencount.New(tokencount.DefaultEncoding)
	require.NoError(t, err)

	n, err := c.Count("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
