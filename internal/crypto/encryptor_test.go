package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func encryptTemp(t *testing.T, e *Encryptor, plaintext []byte) string {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "plain")
	dst := filepath.Join(dir, "cipher")
	require.NoError(t, os.WriteFile(src, plaintext, 0o600))
	require.NoError(t, e.EncryptFile(src, dst))
	return dst
}

func TestRoundTrip(t *testing.T) {
	for _, algorithm := range []string{AlgorithmAESGCM, AlgorithmChaCha20} {
		t.Run(algorithm, func(t *testing.T) {
			e, err := New("correct horse", algorithm)
			require.NoError(t, err)

			plaintext := []byte("the archive payload")
			cipherFile := encryptTemp(t, e, plaintext)

			// Ciphertext must not contain the plaintext.
			raw, err := os.ReadFile(cipherFile)
			require.NoError(t, err)
			require.NotContains(t, string(raw), "archive payload")

			out := filepath.Join(t.TempDir(), "out")
			require.NoError(t, e.DecryptFile(cipherFile, out))

			got, err := os.ReadFile(out)
			require.NoError(t, err)
			require.Equal(t, plaintext, got)
		})
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	e, err := New("right", AlgorithmAESGCM)
	require.NoError(t, err)
	cipherFile := encryptTemp(t, e, []byte("secret"))

	wrong, err := New("wrong", AlgorithmAESGCM)
	require.NoError(t, err)
	err = wrong.DecryptFile(cipherFile, filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_WrongAlgorithm(t *testing.T) {
	e, err := New("pw", AlgorithmAESGCM)
	require.NoError(t, err)
	cipherFile := encryptTemp(t, e, []byte("secret"))

	other, err := New("pw", AlgorithmChaCha20)
	require.NoError(t, err)
	err = other.DecryptFile(cipherFile, filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_Corrupted(t *testing.T) {
	e, err := New("pw", AlgorithmChaCha20)
	require.NoError(t, err)
	cipherFile := encryptTemp(t, e, []byte("secret"))

	raw, err := os.ReadFile(cipherFile)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(cipherFile, raw, 0o600))

	err = e.DecryptFile(cipherFile, filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_Truncated(t *testing.T) {
	e, err := New("pw", AlgorithmAESGCM)
	require.NoError(t, err)
	cipherFile := encryptTemp(t, e, []byte("secret"))

	raw, err := os.ReadFile(cipherFile)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cipherFile, raw[:10], 0o600))

	err = e.DecryptFile(cipherFile, filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_NotACiphertext(t *testing.T) {
	e, err := New("pw", AlgorithmAESGCM)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(src, []byte("PK\x03\x04 this is a zip, not a ciphertext"), 0o600))

	err = e.DecryptFile(src, filepath.Join(t.TempDir(), "out"))
	require.ErrorIs(t, err, ErrDecryption)
}

func TestEncrypt_FreshSaltPerFile(t *testing.T) {
	e, err := New("pw", AlgorithmAESGCM)
	require.NoError(t, err)

	first := encryptTemp(t, e, []byte("same payload"))
	second := encryptTemp(t, e, []byte("same payload"))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestNew_UnsupportedAlgorithm(t *testing.T) {
	_, err := New("pw", "rot13")
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
