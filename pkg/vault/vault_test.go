package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New("correct horse")
	sealed, err := v.Encrypt([]byte("top secret"))
	require.NoError(t, err)
	assert.True(t, IsEncryptedString(sealed))

	plain, err := v.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(plain))
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	sealed, err := New("right").Encrypt([]byte("data"))
	require.NoError(t, err)

	_, err = New("wrong").Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptRejectsMalformedEnvelope(t *testing.T) {
	_, err := New("pw").Decrypt("not a vault blob")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecryptRejectsUnknownHeader(t *testing.T) {
	bogus := "$ANSIBLE_VAULT;9.9;UNKNOWN\nYQ==\nYQ==\nYQ==\n"
	_, err := New("pw").Decrypt(bogus)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestEncryptFileDecryptFileRoundTrip(t *testing.T) {
	v := New("pw")
	sealed, err := v.EncryptFile([]byte("api_key: abc123\n"))
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))

	plain, err := v.DecryptFile(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api_key: abc123\n", string(plain))
}

func TestViewFileReturnsPlaintextString(t *testing.T) {
	v := New("pw")
	sealed, err := v.EncryptFile([]byte("hello"))
	require.NoError(t, err)

	view, err := v.ViewFile(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", view)
}

func TestIsEncryptedFalseForPlainYAML(t *testing.T) {
	assert.False(t, IsEncrypted([]byte("a: 1\nb: 2\n")))
}

func TestEncryptInlineDecryptInlineRoundTrip(t *testing.T) {
	v := New("pw")
	block, err := v.EncryptInline("s3cr3t")
	require.NoError(t, err)
	assert.True(t, IsEncryptedString(block))

	plain, err := v.DecryptInline(block)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", plain)
}
