package auth

import (
	"context"

	"bank_system/internal/domain"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Verifier checks a plaintext password against the stored bcrypt hash.
// The transaction engine uses it for the per-transaction re-auth step.
type Verifier struct {
	db *gorm.DB
}

// NewVerifier wraps a gorm handle
func NewVerifier(db *gorm.DB) *Verifier {
	return &Verifier{db: db}
}

// Verify returns true only when the user exists and the password
// matches. An unknown user id and a wrong password are deliberately
// indistinguishable.
func (v *Verifier) Verify(ctx context.Context, userID uint, plaintext string) bool {
	var user domain.User
	if err := v.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(plaintext)) == nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
