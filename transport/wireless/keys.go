package wireless

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize          = 32
	NonceSize        = 32
	PBKDF2Iterations = 100000
	pairingSalt      = "MicroKB-Pair-v1"
	sessionContext   = "MicroKB-Session-v1"
	authContext      = "MicroKB-Auth-v1"
)

// DerivePairingKey stretches a displayed passkey into the key that
// authenticates one pairing attempt. The host id salts it so a key derived
// for one host is useless for another.
func DerivePairingKey(passkey string, host uuid.UUID) ([]byte, error) {
	if passkey == "" {
		return nil, errors.New("passkey cannot be empty")
	}
	return pbkdf2.Key([]byte(passkey), append([]byte(pairingSalt), host[:]...), PBKDF2Iterations, KeySize, sha256.New), nil
}

// NewBondKey returns a random long term key for a new bond.
func NewBondKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// deriveSessionKey mixes the shared key with both nonces.
func deriveSessionKey(key, keyboardNonce, hostNonce []byte) []byte {
	h := sha256.New()
	h.Write(key)
	h.Write(keyboardNonce)
	h.Write(hostNonce)
	h.Write([]byte(sessionContext))
	return h.Sum(nil)
}

// authMAC proves knowledge of key for the given host nonce.
func authMAC(key, hostNonce []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(authContext))
	_, _ = mac.Write(hostNonce)
	return mac.Sum(nil)
}

func randomNonce() ([]byte, error) {
	n := make([]byte, NonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, err
	}
	return n, nil
}
