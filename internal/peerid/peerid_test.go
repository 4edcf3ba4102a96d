package peerid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateCarriesClientTag(t *testing.T) {
	id, err := Generate()
	assert.NoError(t, err)
	assert.Equal(t, clientTag, string(id[:8]))
}

func TestGenerateProducesDistinctIDs(t *testing.T) {
	a, err := Generate()
	assert.NoError(t, err)
	b, err := Generate()
	assert.NoError(t, err)
	assert.NotEqual(t, a[8:], b[8:])
}
