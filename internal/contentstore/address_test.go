package contentstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressIsDeterministic(t *testing.T) {
	record := map[string]any{
		"wallet_address": "0xabc",
		"public_key":     "pk-1",
		"registered_at":  1700000000000,
	}

	first, err := Address(record)
	require.NoError(t, err)
	second, err := Address(record)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", first)
}

func TestAddressIgnoresKeyOrder(t *testing.T) {
	// Two structurally identical records declared with different field order
	// must map to the same identifier.
	type recordA struct {
		Wallet string `json:"wallet"`
		Key    string `json:"key"`
	}
	type recordB struct {
		Key    string `json:"key"`
		Wallet string `json:"wallet"`
	}

	a, err := Address(recordA{Wallet: "0xabc", Key: "pk"})
	require.NoError(t, err)
	b, err := Address(recordB{Key: "pk", Wallet: "0xabc"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestAddressDiffersOnContent(t *testing.T) {
	a, err := Address(map[string]any{"v": 1})
	require.NoError(t, err)
	b, err := Address(map[string]any{"v": 2})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestAddressRejectsUnencodable(t *testing.T) {
	_, err := Address(make(chan int))
	assert.Error(t, err)
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	type record struct {
		Zulu  string `json:"zulu"`
		Alpha string `json:"alpha"`
	}

	canonical, err := Canonicalize(record{Zulu: "z", Alpha: "a"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","zulu":"z"}`, string(canonical))
}
