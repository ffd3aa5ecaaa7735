package sourcing

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Cipher performs symmetric authenticated encryption of opaque payloads. A
// failed integrity check on Decrypt must surface as a CipherError.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

const secretboxNonceSize = 24
const secretboxKeySize = 32

// SecretboxCipher implements Cipher using XSalsa20-Poly1305 authenticated
// encryption (golang.org/x/crypto/nacl/secretbox). A random 24-byte nonce is
// generated per call to Encrypt and prepended to the returned ciphertext.
type SecretboxCipher struct {
	key [secretboxKeySize]byte
}

// NewSecretboxCipher builds a SecretboxCipher from a 32-byte key.
func NewSecretboxCipher(key []byte) (*SecretboxCipher, error) {
	if len(key) != secretboxKeySize {
		return nil, &ValidationError{
			StoreError: StoreError{Op: "NewSecretboxCipher", Err: fmt.Errorf("key must be %d bytes, got %d", secretboxKeySize, len(key))},
			Field:      "key",
		}
	}
	c := &SecretboxCipher{}
	copy(c.key[:], key)
	return c, nil
}

// Encrypt implements Cipher.
func (c *SecretboxCipher) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [secretboxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, &CipherError{StoreError{Op: "SecretboxCipher.Encrypt", Err: err}}
	}
	out := secretbox.Seal(nonce[:], plaintext, &nonce, &c.key)
	return out, nil
}

// Decrypt implements Cipher. It fails with a CipherError when the payload
// is too short to contain a nonce or when the authentication tag does not
// verify.
func (c *SecretboxCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < secretboxNonceSize {
		return nil, &CipherError{StoreError{Op: "SecretboxCipher.Decrypt", Err: fmt.Errorf("ciphertext shorter than nonce")}}
	}
	var nonce [secretboxNonceSize]byte
	copy(nonce[:], ciphertext[:secretboxNonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[secretboxNonceSize:], &nonce, &c.key)
	if !ok {
		return nil, &CipherError{StoreError{Op: "SecretboxCipher.Decrypt", Err: fmt.Errorf("integrity check failed")}}
	}
	return plaintext, nil
}
