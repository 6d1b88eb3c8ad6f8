// Package wallet generates anonymous Algorand keypairs for whistleblowers.
// No KYC, no persistence: callers keep what they need.
package wallet

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"

	"github.com/whistlechain/backend/internal/protocol"
)

// Wallet is a fresh or restored keypair.
type Wallet struct {
	Address    string             `json:"address"`
	PrivateKey ed25519.PrivateKey `json:"-"`
	Mnemonic   string             `json:"mnemonic"`
}

// New generates a fresh keypair with its 25-word backup phrase.
func New() (*Wallet, error) {
	account := crypto.GenerateAccount()
	phrase, err := mnemonic.FromPrivateKey(account.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		Address:    account.Address.String(),
		PrivateKey: account.PrivateKey,
		Mnemonic:   phrase,
	}, nil
}

// FromMnemonic restores a wallet from a 25-word phrase.
func FromMnemonic(phrase string) (*Wallet, error) {
	key, err := mnemonic.ToPrivateKey(phrase)
	if err != nil {
		return nil, &protocol.ValidationError{Msg: "malformed mnemonic: " + err.Error()}
	}
	addr, err := AddressOf(key)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		Address:    addr,
		PrivateKey: key,
		Mnemonic:   phrase,
	}, nil
}

// FromBase64Key restores a signing key from its base64 encoding, the format
// used for the ADMIN_PRIVATE_KEY environment option.
func FromBase64Key(encoded string) (*Wallet, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &protocol.ValidationError{Msg: "malformed private key: " + err.Error()}
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, &protocol.ValidationError{Msg: "private key must be 64 bytes"}
	}
	key := ed25519.PrivateKey(raw)
	addr, err := AddressOf(key)
	if err != nil {
		return nil, err
	}
	phrase, _ := mnemonic.FromPrivateKey(key)
	return &Wallet{Address: addr, PrivateKey: key, Mnemonic: phrase}, nil
}

// AddressOf derives the Algorand address for a signing key.
func AddressOf(key ed25519.PrivateKey) (string, error) {
	account, err := crypto.AccountFromPrivateKey(key)
	if err != nil {
		return "", err
	}
	return account.Address.String(), nil
}
