// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

// ErrAlreadyExists は一意キーが重複した場合に返される。
var ErrAlreadyExists = errors.New("record already exists")

// ProjectRepository はプロジェクトの永続化インターフェース。
// 画像配列は常に全体置換で保存する。
type ProjectRepository interface {
	// List はプロジェクト概要を作成日時の降順で返す。
	List(ctx context.Context) ([]model.ProjectSummary, error)

	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)

	// Create はプロジェクトを作成する。
	Create(ctx context.Context, project *model.Project) error

	// Update はプロジェクトを全体置換で更新する。対象が存在しない場合はfalseを返す。
	Update(ctx context.Context, project *model.Project) (bool, error)

	// Delete は指定IDのプロジェクトを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// ImageAt は指定プロジェクトのindex番目の画像を返す。
	// プロジェクトまたは画像が存在しない場合はnilを返す。
	ImageAt(ctx context.Context, id string, index int) (*model.Image, error)
}

// AuthenticationRepository は管理者パスワードとセッションの永続化インターフェース。
type AuthenticationRepository interface {
	// FindByKey はキーに対応する資格情報を取得する。見つからない場合はnilを返す。
	// Sessionsには期限切れを含む全セッションが作成日時順で入る。
	FindByKey(ctx context.Context, key string) (*model.Authentication, error)

	// Create は資格情報を作成する。既に存在する場合はErrAlreadyExistsを返す。
	Create(ctx context.Context, auth *model.Authentication) error

	// UpdateValue はパスワードハッシュを置き換える。
	UpdateValue(ctx context.Context, key, value string, updatedAt time.Time) error

	// AddSession はセッションを追加する。
	AddSession(ctx context.Context, key string, session model.AdminSession) error

	// RemoveSession はトークンに一致するセッションを削除する。該当がなくてもエラーにしない。
	RemoveSession(ctx context.Context, token string) error

	// FindBySessionToken はnow時点で有効なセッションを持つ資格情報を返す。
	// トークン不一致または期限切れの場合はnilを返す。
	// 返却値のSessionsには一致したセッションのみが入る。
	FindBySessionToken(ctx context.Context, token string, now time.Time) (*model.Authentication, error)
}
