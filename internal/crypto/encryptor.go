package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryption indicates that a ciphertext could not be decrypted: wrong
// passphrase, wrong algorithm, or corrupted/truncated data. Decryption never
// silently produces garbage; any mismatch surfaces as this error.
var ErrDecryption = errors.New("decryption failed")

// ErrUnsupportedAlgorithm indicates an algorithm name outside the supported set.
var ErrUnsupportedAlgorithm = errors.New("unsupported encryption algorithm")

// Supported algorithm names.
const (
	AlgorithmAESGCM   = "aes-256-gcm"
	AlgorithmChaCha20 = "chacha20-poly1305"
)

// Ciphertext layout: magic | algorithm id | salt | nonce | sealed payload.
// The salt is random per file; the key is derived from the passphrase with
// PBKDF2-SHA256 over that salt.
var magic = []byte("CBK1")

const (
	algIDAESGCM   = byte(1)
	algIDChaCha20 = byte(2)

	saltSize      = 16
	keySize       = 32
	kdfIterations = 100_000
)

// Encryptor seals and opens archive files with a passphrase-derived key.
// It is safe for sequential reuse; derived keys are cached per salt for the
// adapter's lifetime.
type Encryptor struct {
	password  []byte
	algorithm string
	algID     byte
	keyCache  map[[saltSize]byte][]byte
}

// New builds an Encryptor for the given passphrase and algorithm name.
func New(password, algorithm string) (*Encryptor, error) {
	var algID byte
	switch algorithm {
	case AlgorithmAESGCM:
		algID = algIDAESGCM
	case AlgorithmChaCha20:
		algID = algIDChaCha20
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	return &Encryptor{
		password:  []byte(password),
		algorithm: algorithm,
		algID:     algID,
		keyCache:  make(map[[saltSize]byte][]byte),
	}, nil
}

// Algorithm returns the configured algorithm name.
func (e *Encryptor) Algorithm() string {
	return e.algorithm
}

// EncryptFile seals src into dst. A fresh random salt and nonce are generated
// per call, so encrypting the same plaintext twice yields distinct ciphertexts.
func (e *Encryptor) EncryptFile(src, dst string) error {
	plain, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read plaintext %s: %w", src, err)
	}

	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	aead, err := e.aead(salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	header := make([]byte, 0, len(magic)+1+saltSize+len(nonce))
	header = append(header, magic...)
	header = append(header, e.algID)
	header = append(header, salt[:]...)
	header = append(header, nonce...)

	sealed := aead.Seal(header, nonce, plain, nil)

	if err := os.WriteFile(dst, sealed, 0o600); err != nil {
		return fmt.Errorf("write ciphertext %s: %w", dst, err)
	}
	return nil
}

// DecryptFile opens src into dst, failing with ErrDecryption on a wrong
// passphrase, a different algorithm than configured, or corrupted data.
func (e *Encryptor) DecryptFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read ciphertext %s: %w", src, err)
	}

	headerLen := len(magic) + 1 + saltSize
	if len(data) < headerLen {
		return fmt.Errorf("%w: ciphertext truncated", ErrDecryption)
	}
	if string(data[:len(magic)]) != string(magic) {
		return fmt.Errorf("%w: not a cbak ciphertext", ErrDecryption)
	}
	if data[len(magic)] != e.algID {
		return fmt.Errorf("%w: ciphertext algorithm does not match %s", ErrDecryption, e.algorithm)
	}

	var salt [saltSize]byte
	copy(salt[:], data[len(magic)+1:headerLen])

	aead, err := e.aead(salt)
	if err != nil {
		return err
	}

	if len(data) < headerLen+aead.NonceSize() {
		return fmt.Errorf("%w: ciphertext truncated", ErrDecryption)
	}
	nonce := data[headerLen : headerLen+aead.NonceSize()]
	sealed := data[headerLen+aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	if err := os.WriteFile(dst, plain, 0o600); err != nil {
		return fmt.Errorf("write plaintext %s: %w", dst, err)
	}
	return nil
}

// aead returns the AEAD for the key derived from the passphrase and salt,
// deriving at most once per salt.
func (e *Encryptor) aead(salt [saltSize]byte) (cipher.AEAD, error) {
	key, ok := e.keyCache[salt]
	if !ok {
		key = pbkdf2.Key(e.password, salt[:], kdfIterations, keySize, sha256.New)
		e.keyCache[salt] = key
	}

	switch e.algID {
	case algIDAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("init aes: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("init gcm: %w", err)
		}
		return aead, nil
	case algIDChaCha20:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("init chacha20-poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: id %d", ErrUnsupportedAlgorithm, e.algID)
	}
}
