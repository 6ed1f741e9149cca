package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinCost は受け付ける bcrypt コストの下限です。
const MinCost = 10

// PasswordHasher はパスワードのハッシュ化と照合を行います。
type PasswordHasher interface {
	// Hash はランダムなソルト付きのハッシュを生成します。
	Hash(plaintext string) (string, error)
	// Verify は平文がハッシュと一致するかを返します。
	Verify(plaintext, hash string) bool
}

// BcryptHasher は bcrypt による PasswordHasher です。
// ハッシュは $2a$<cost>$<salt+digest> 形式で、照合は定数時間で行われます。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はコストを [MinCost, bcrypt.MaxCost] に丸めて作成します。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < MinCost {
		cost = MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost は使用するコストを返します。
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash は72バイトを超えるパスワードに対してエラーを返します。
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
