package utils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
)

// sessionKeyVersion leading byte of every sealed session key, authenticated as AAD
const sessionKeyVersion byte = 0x01

const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// ErrSessionKeyMalformed sealed credential could not be opened or is not a secp256k1 key
var ErrSessionKeyMalformed = errors.New("session key is malformed")

// SessionKeyCipher seals and opens locker session keys with XChaCha20-Poly1305.
// Sealed form: 0x-hex of [version][24-byte nonce][ciphertext+tag]; the locker id and
// chain id are bound as additional data so a credential cannot be moved between policies.
type SessionKeyCipher struct {
	key []byte
}

// NewSessionKeyCipher keyHex must decode to 32 bytes
func NewSessionKeyCipher(keyHex string) (*SessionKeyCipher, error) {
	key, err := hexutil.Decode(ensureHexPrefix(keyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid session key cipher key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("session key cipher key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &SessionKeyCipher{key: key}, nil
}

// Seal encrypts a hex private key
func (c *SessionKeyCipher) Seal(privateKeyHex, lockerID string, chainID int64) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), sealedOverhead+len(privateKeyHex))
	out[0] = sessionKeyVersion
	copy(out[1:], nonce[:])
	out = aead.Seal(out, nonce[:], []byte(strings.TrimPrefix(privateKeyHex, "0x")), sessionKeyAAD(lockerID, chainID))
	return hexutil.Encode(out), nil
}

// Open decrypts a sealed session key and parses it as a secp256k1 private key
func (c *SessionKeyCipher) Open(sealed, lockerID string, chainID int64) (*ecdsa.PrivateKey, error) {
	blob, err := hexutil.Decode(ensureHexPrefix(sealed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionKeyMalformed, err)
	}
	if len(blob) < sealedOverhead || blob[0] != sessionKeyVersion {
		return nil, ErrSessionKeyMalformed
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], sessionKeyAAD(lockerID, chainID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionKeyMalformed, err)
	}

	privateKey, err := crypto.HexToECDSA(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionKeyMalformed, err)
	}
	return privateKey, nil
}

// SessionKeyAddress address controlled by a session key
func SessionKeyAddress(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

func sessionKeyAAD(lockerID string, chainID int64) []byte {
	return []byte(fmt.Sprintf("%c%s:%d", sessionKeyVersion, lockerID, chainID))
}

func ensureHexPrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return "0x" + s
}
