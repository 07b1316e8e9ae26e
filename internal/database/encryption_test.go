package database

import (
	"context"
	"strings"
	"testing"

	"pingup/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestEncryptor_Disabled(t *testing.T) {
	t.Setenv("PINGUP_ENABLE_ENCRYPTION", "false")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	out, err := enc.Encrypt("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = enc.Decrypt(encryptedPrefix + "AAAA")
	assert.Error(t, err, "sealed values cannot be read without the key")
}

func TestEncryptor_RoundTrip(t *testing.T) {
	t.Setenv("PINGUP_ENABLE_ENCRYPTION", "true")
	t.Setenv("PINGUP_ENCRYPTION_SECRET", testSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	sealed, err := enc.Encrypt("see you at 5")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, encryptedPrefix))
	assert.NotContains(t, sealed, "see you")

	again, err := enc.Encrypt("see you at 5")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces are random")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "see you at 5", plain)

	legacy, err := enc.Decrypt("stored before encryption")
	require.NoError(t, err)
	assert.Equal(t, "stored before encryption", legacy)

	empty, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEncryptor_SecretValidation(t *testing.T) {
	t.Setenv("PINGUP_ENABLE_ENCRYPTION", "true")

	t.Setenv("PINGUP_ENCRYPTION_SECRET", "")
	_, err := NewEncryptor()
	assert.Error(t, err)

	t.Setenv("PINGUP_ENCRYPTION_SECRET", "short")
	_, err = NewEncryptor()
	assert.Error(t, err)
}

func TestEncryptor_TamperedCiphertext(t *testing.T) {
	t.Setenv("PINGUP_ENABLE_ENCRYPTION", "true")
	t.Setenv("PINGUP_ENCRYPTION_SECRET", testSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	_, err = enc.Decrypt(encryptedPrefix + "not base64!")
	assert.Error(t, err)
	_, err = enc.Decrypt(encryptedPrefix + "AAAA")
	assert.Error(t, err)
}

func TestMessageTextEncryptedAtRest(t *testing.T) {
	t.Setenv("PINGUP_ENABLE_ENCRYPTION", "true")
	t.Setenv("PINGUP_ENCRYPTION_SECRET", testSecret)

	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.AppendMessage(ctx, &models.Message{FromUserID: "a", ToUserID: "b", Text: "private", MessageType: models.MessageKindText})
	require.NoError(t, err)

	var raw string
	require.NoError(t, db.db.QueryRow(`SELECT text FROM messages`).Scan(&raw))
	assert.NotContains(t, raw, "private")

	transcript, err := db.Transcript(ctx, "a", "b")
	require.NoError(t, err)
	require.Len(t, transcript, 1)
	assert.Equal(t, "private", transcript[0].Text)
}
