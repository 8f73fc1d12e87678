package auth

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	// bcryptは72バイトを超える入力を扱えない
	maxPasswordBytes = 72

	passwordSymbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?"
)

// ErrPasswordPolicy はパスワードが複雑性要件を満たさない場合のエラー。
var ErrPasswordPolicy = errors.New("password does not meet complexity requirements")

// CheckPasswordPolicy はパスワードの複雑性要件を検証する。
// 6文字以上で、英小文字・英大文字・数字・記号をそれぞれ1文字以上含む必要がある。
func CheckPasswordPolicy(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength || len(password) > maxPasswordBytes {
		return ErrPasswordPolicy
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}

	if !lower || !upper || !digit || !symbol {
		return ErrPasswordPolicy
	}
	return nil
}

// hashPassword はbcryptでソルト付きハッシュを生成する。
func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword はパスワードがハッシュと一致するかを返す。
// 比較はbcrypt内部で定数時間で行われる。
func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
