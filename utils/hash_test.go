package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash_MapOrderIndependent(t *testing.T) {
	first := map[string]interface{}{
		"title": "buy milk",
		"done":  false,
		"tags":  []string{"errand", "home"},
	}
	second := map[string]interface{}{
		"tags":  []string{"errand", "home"},
		"done":  false,
		"title": "buy milk",
	}

	firstHash, err := ContentHash(first)
	require.NoError(t, err)
	secondHash, err := ContentHash(second)
	require.NoError(t, err)

	assert.Equal(t, firstHash, secondHash)
	assert.Len(t, firstHash, 64)
}

func TestContentHash_NestedMaps(t *testing.T) {
	first := map[string]interface{}{
		"note": map[string]interface{}{"body": "draft", "rev": 2},
	}
	second := map[string]interface{}{
		"note": map[string]interface{}{"rev": 2, "body": "draft"},
	}

	firstHash, err := ContentHash(first)
	require.NoError(t, err)
	secondHash, err := ContentHash(second)
	require.NoError(t, err)

	assert.Equal(t, firstHash, secondHash)
}

func TestContentHash_DistinguishesValues(t *testing.T) {
	firstHash, err := ContentHash(map[string]interface{}{"title": "buy milk"})
	require.NoError(t, err)
	secondHash, err := ContentHash(map[string]interface{}{"title": "buy bread"})
	require.NoError(t, err)

	assert.NotEqual(t, firstHash, secondHash)
}

func TestHashBytes(t *testing.T) {
	assert.Equal(t, HashBytes([]byte("payload")), HashBytes([]byte("payload")))
	assert.NotEqual(t, HashBytes([]byte("payload")), HashBytes([]byte("payload2")))
	assert.Len(t, HashBytes(nil), 64)
}
