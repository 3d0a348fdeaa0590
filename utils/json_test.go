package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	BaseURL string `json:"base_url"`
	Retries int    `json:"retries"`
}

func TestMarshalRoundTrip(t *testing.T) {
	original := map[string]interface{}{"title": "buy milk", "priority": 2}

	data, err := Marshal(original)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, Unmarshal(data, &decoded))

	assert.Equal(t, "buy milk", decoded["title"])
	assert.EqualValues(t, 2, decoded["priority"])
}

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	data, err := MarshalCanonical(map[string]interface{}{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)

	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(data))
}

func TestUnmarshalConfig_FromMap(t *testing.T) {
	raw := map[string]interface{}{"base_url": "https://api.example.com", "retries": 3}

	target := &sampleConfig{}
	require.NoError(t, UnmarshalConfig(raw, target))

	assert.Equal(t, "https://api.example.com", target.BaseURL)
	assert.Equal(t, 3, target.Retries)
}

func TestUnmarshalConfig_TypedPassthrough(t *testing.T) {
	source := &sampleConfig{BaseURL: "https://api.example.com"}

	target := &sampleConfig{}
	require.NoError(t, UnmarshalConfig(source, target))

	assert.Equal(t, source.BaseURL, target.BaseURL)
}

func TestUnmarshalConfig_Nil(t *testing.T) {
	target := &sampleConfig{}
	assert.Error(t, UnmarshalConfig(nil, target))
}

func TestBytesToString(t *testing.T) {
	assert.Equal(t, "", BytesToString(nil))
	assert.Equal(t, "payload", BytesToString([]byte("payload")))
}
