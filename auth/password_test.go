package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$2a$12$"))

	require.True(t, ComparePassword("correct horse battery staple", hash))
	require.False(t, ComparePassword("wrong password", hash))
	require.False(t, ComparePassword("", hash))
}

func TestComparePasswordNormalizesUnicode(t *testing.T) {
	// "café" with a precomposed é versus e plus combining acute.
	composed := "café"
	decomposed := "café"

	hash, err := HashPassword(composed)
	require.NoError(t, err)
	require.True(t, ComparePassword(decomposed, hash))
}

func TestDummyHashDoesFullBcryptWork(t *testing.T) {
	// The dummy must parse as a real cost-12 digest so the unknown-user
	// compare runs the full key schedule and fails with a mismatch, not
	// a parse error that returns in nanoseconds.
	cost, err := bcrypt.Cost([]byte(dummyHash()))
	require.NoError(t, err)
	require.Equal(t, bcryptCost, cost)

	err = bcrypt.CompareHashAndPassword([]byte(dummyHash()), []byte("anything"))
	require.ErrorIs(t, err, bcrypt.ErrMismatchedHashAndPassword)

	require.False(t, ComparePassword("anything", dummyHash()))
}
