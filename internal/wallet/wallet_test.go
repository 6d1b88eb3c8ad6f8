package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWallet(t *testing.T) {
	w, err := New()
	require.NoError(t, err)

	assert.Len(t, w.Address, 58, "Algorand addresses are 58 characters")
	assert.NotEmpty(t, w.Mnemonic)
	assert.Len(t, w.PrivateKey, 64)
}

func TestMnemonicRoundTrip(t *testing.T) {
	w, err := New()
	require.NoError(t, err)

	restored, err := FromMnemonic(w.Mnemonic)
	require.NoError(t, err)

	assert.Equal(t, w.Address, restored.Address)
	assert.Equal(t, w.PrivateKey, restored.PrivateKey)
}

func TestFromMnemonicRejectsGarbage(t *testing.T) {
	_, err := FromMnemonic("not a valid twenty five word phrase")
	assert.Error(t, err)
}

func TestAddressOf(t *testing.T) {
	w, err := New()
	require.NoError(t, err)

	addr, err := AddressOf(w.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, w.Address, addr)
}
