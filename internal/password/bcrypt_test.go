package password

import (
	"strings"
	"testing"

	"github.com/atinyakov/accounts/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcrypt_HashVerify(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost)

	digest, err := h.Hash("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", digest)

	ok, err := h.Verify("s3cret!", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcrypt_MalformedDigest(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost)
	ok, err := h.Verify("pw", "not-a-bcrypt-hash")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewBcrypt_DefaultsCost(t *testing.T) {
	assert.Equal(t, DefaultCost, NewBcrypt(0).cost)
	assert.Equal(t, DefaultCost, NewBcrypt(99).cost)

	digest, err := NewBcrypt(0).Hash("pw")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	assert.Equal(t, DefaultCost, cost)
}

func TestBcrypt_PasswordTooLong(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost)
	long := strings.Repeat("p", MaxBytes+8)

	_, err := h.Hash(long)
	assert.ErrorIs(t, err, models.ErrValidation)

	digest, err := h.Hash("s3cret!")
	require.NoError(t, err)
	ok, err := h.Verify(long, digest)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.False(t, ok)

	// exactly MaxBytes is still accepted
	_, err = h.Hash(strings.Repeat("p", MaxBytes))
	assert.NoError(t, err)
}
