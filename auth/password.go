// Package auth implements credential management and the composed
// authentication flows: registration, email confirmation, login, password
// reset, MFA lifecycle, and session cookies.
package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/patrickcsouzadev/todo-app/internal/util"
)

// bcryptCost keeps verification around or above 100ms on commodity
// hardware, which is the point of an adaptive hash.
const bcryptCost = 12

// dummyHash returns a structurally valid cost-12 hash of a random value
// that nothing ever matches. Login compares against it when the account
// does not exist, so the unknown-email path does the same bcrypt work as
// a wrong password. A malformed placeholder would make the compare fail
// at parse time and reopen the timing oracle.
var dummyHash = sync.OnceValue(func() string {
	raw, err := util.RandomBytes(32)
	if err != nil {
		panic(fmt.Sprintf("auth: generating dummy hash input: %v", err))
	}
	hash, err := bcrypt.GenerateFromPassword(raw, bcryptCost)
	if err != nil {
		panic(fmt.Sprintf("auth: generating dummy hash: %v", err))
	}
	return string(hash)
})

// HashPassword hashes a password with bcrypt. The password is Unicode
// normalized first so visually identical inputs hash identically.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(util.Normalize(password)), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches the stored hash.
func ComparePassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(util.Normalize(password))) == nil
}
