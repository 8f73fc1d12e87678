// Package auth は管理者パスワードとログインセッションを管理する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/repository"
)

// DefaultSessionTTL はセッションの有効期間。これより長い設定は切り詰める。
const DefaultSessionTTL = 24 * time.Hour

// MinBcryptCost はパスワードハッシュの最小コスト。これより低い設定は引き上げる。
const MinBcryptCost = 12

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int
}

// Service は管理者認証に関するビジネスロジックを提供する。
// パスワードが未設定（Unset）か設定済み（Set）かの2状態を持つ。
type Service struct {
	repo   repository.AuthenticationRepository
	config ServiceConfig
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.AuthenticationRepository, config ServiceConfig) *Service {
	if config.SessionTTL <= 0 || config.SessionTTL > DefaultSessionTTL {
		config.SessionTTL = DefaultSessionTTL
	}
	config.BcryptCost = min(max(config.BcryptCost, MinBcryptCost), bcrypt.MaxCost)
	return &Service{repo: repo, config: config, now: time.Now}
}

// Status はパスワードが設定済みかどうかを返す。
func (s *Service) Status(ctx context.Context) (bool, error) {
	record, err := s.repo.FindByKey(ctx, model.AdminPasswordKey)
	if err != nil {
		return false, fmt.Errorf("failed to find credential: %w", err)
	}
	return record != nil, nil
}

// SetPassword は初期パスワードを設定する。Unset状態でのみ許可される。
func (s *Service) SetPassword(ctx context.Context, password, confirmPassword string) error {
	record, err := s.repo.FindByKey(ctx, model.AdminPasswordKey)
	if err != nil {
		return fmt.Errorf("failed to find credential: %w", err)
	}
	if record != nil {
		return model.NewPasswordAlreadySetError()
	}

	if apiErr := validateNewPassword("password", password, confirmPassword); apiErr != nil {
		return apiErr
	}

	hash, err := hashPassword(password, s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	err = s.repo.Create(ctx, &model.Authentication{
		Key:       model.AdminPasswordKey,
		Value:     hash,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, repository.ErrAlreadyExists) {
		// 同時に設定された場合は後着を拒否する
		return model.NewPasswordAlreadySetError()
	}
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	slog.Info("admin password set")
	return nil
}

// ChangePassword は旧パスワードを検証したうえでパスワードを置き換える。
// 既存のセッションは維持する。
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword, confirmPassword string) error {
	record, err := s.repo.FindByKey(ctx, model.AdminPasswordKey)
	if err != nil {
		return fmt.Errorf("failed to find credential: %w", err)
	}
	if record == nil {
		return model.NewPasswordNotSetError()
	}

	if !verifyPassword(record.Value, oldPassword) {
		slog.Warn("admin password change rejected: old password mismatch")
		return model.NewInvalidCredentialsError()
	}

	if apiErr := validateNewPassword("newPassword", newPassword, confirmPassword); apiErr != nil {
		return apiErr
	}

	hash, err := hashPassword(newPassword, s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.UpdateValue(ctx, model.AdminPasswordKey, hash, s.now()); err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	slog.Info("admin password changed")
	return nil
}

// Login はパスワードを検証し、新しいセッションを発行する。
func (s *Service) Login(ctx context.Context, password string) (*model.AdminSession, error) {
	record, err := s.repo.FindByKey(ctx, model.AdminPasswordKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if record == nil {
		return nil, model.NewPasswordNotSetError()
	}

	if !verifyPassword(record.Value, password) {
		slog.Warn("admin login failed: invalid password")
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := model.AdminSession{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}

	if err := s.repo.AddSession(ctx, model.AdminPasswordKey, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("admin logged in",
		slog.Time("expires_at", session.ExpiresAt),
	)
	return &session, nil
}

// Logout はトークンに一致するセッションを削除する。
// トークンが空または一致するセッションがなくてもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.repo.RemoveSession(ctx, token); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	slog.Info("admin logged out")
	return nil
}

// ResolveSession はトークンに一致する有効なセッションを持つ資格情報を返す。
// トークンが空、一致なし、期限切れのいずれもnilを返す。
func (s *Service) ResolveSession(ctx context.Context, token string) (*model.Authentication, error) {
	if token == "" {
		return nil, nil
	}

	now := s.now()
	record, err := s.repo.FindBySessionToken(ctx, token, now)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if record == nil {
		return nil, nil
	}

	// ストアが返したセッションも時刻で再確認する
	for _, sess := range record.Sessions {
		if sess.Token == token && !sess.Expired(now) {
			return record, nil
		}
	}
	return nil, nil
}

// validateNewPassword は新しいパスワードと確認入力を検証する。
func validateNewPassword(field, password, confirmPassword string) *model.APIError {
	if password == "" || confirmPassword == "" {
		return model.NewValidationError(map[string]string{
			field: "パスワードと確認用パスワードを入力してください。",
		})
	}
	if password != confirmPassword {
		return model.NewValidationError(map[string]string{
			"confirmPassword": "パスワードが一致しません。",
		})
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return model.NewValidationError(map[string]string{
			field: "パスワードは6文字以上で、英小文字・英大文字・数字・記号をそれぞれ含めてください。",
		})
	}
	return nil
}

// generateSessionToken は256ビットの乱数を16進文字列にしたトークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
