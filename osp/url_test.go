package osp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	// Scenario F from spec.md §8.
	u, err := ParseURL("osp://test-url.com:42069")
	require.NoError(t, err)
	assert.Equal(t, "test-url.com", u.Domain)
	assert.Equal(t, uint16(42069), u.Port)
}

func TestParseURLDefaultsPort(t *testing.T) {
	u, err := ParseURL("osp://example.com")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, u.Port)
}

func TestParseURLRejectsOtherSchemes(t *testing.T) {
	_, err := ParseURL("http://test-url.com:42069")
	assert.Error(t, err)
}

func TestConnectionTypeFromU8UnknownFallback(t *testing.T) {
	assert.Equal(t, ConnectionTypeUnknown, ConnectionTypeFromU8(99))
	assert.Equal(t, ConnectionTypeClient, ConnectionTypeFromU8(1))
	assert.Equal(t, ConnectionTypeServer, ConnectionTypeFromU8(2))
}
