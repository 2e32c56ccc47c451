package ethutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestRecoverAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	message := []byte("veil login: nonce abc123")
	sig, err := crypto.Sign(PersonalMessageHash(message).Bytes(), key)
	require.NoError(t, err)

	recovered, err := RecoverAddress(message, sig)
	require.NoError(t, err)
	require.Equal(t, addr, recovered)

	// Wallets commonly emit v = 27/28; both conventions must verify.
	shifted := make([]byte, len(sig))
	copy(shifted, sig)
	shifted[crypto.RecoveryIDOffset] += 27
	recovered, err = RecoverAddress(message, shifted)
	require.NoError(t, err)
	require.Equal(t, addr, recovered)

	require.NoError(t, Verify(message, sig, addr))
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	message := []byte("veil login: nonce abc123")
	sig, err := crypto.Sign(PersonalMessageHash(message).Bytes(), key)
	require.NoError(t, err)

	err = Verify(message, sig, crypto.PubkeyToAddress(other.PublicKey))
	require.ErrorIs(t, err, ErrInvalidSignature)

	// A different message breaks recovery to the original address.
	err = Verify([]byte("tampered"), sig, crypto.PubkeyToAddress(key.PublicKey))
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = RecoverAddress(message, sig[:10])
	require.ErrorIs(t, err, ErrInvalidSignature)
}
