package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/atelier/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresAuthRepo はPostgreSQLを使用した管理者資格情報リポジトリ。
// 資格情報はadmin_credentials、セッションはadmin_sessionsに分けて保存する。
type PostgresAuthRepo struct {
	db *sql.DB
}

// NewPostgresAuthRepo はPostgresAuthRepoを生成する。
func NewPostgresAuthRepo(db *sql.DB) *PostgresAuthRepo {
	return &PostgresAuthRepo{db: db}
}

// FindByKey はキーに対応する資格情報をセッション付きで取得する。見つからない場合はnilを返す。
func (r *PostgresAuthRepo) FindByKey(ctx context.Context, key string) (*model.Authentication, error) {
	auth := &model.Authentication{}
	err := r.db.QueryRowContext(ctx,
		`SELECT key, value, created_at, updated_at FROM admin_credentials WHERE key = $1`,
		key,
	).Scan(&auth.Key, &auth.Value, &auth.CreatedAt, &auth.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT token, created_at, expires_at FROM admin_sessions
		 WHERE credential_key = $1
		 ORDER BY created_at`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.AdminSession
		if err := rows.Scan(&s.Token, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		auth.Sessions = append(auth.Sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return auth, nil
}

// Create は資格情報を作成する。既に存在する場合はErrAlreadyExistsを返す。
func (r *PostgresAuthRepo) Create(ctx context.Context, auth *model.Authentication) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_credentials (key, value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)`,
		auth.Key, auth.Value, auth.CreatedAt, auth.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// UpdateValue はパスワードハッシュを置き換える。
func (r *PostgresAuthRepo) UpdateValue(ctx context.Context, key, value string, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE admin_credentials SET value = $2, updated_at = $3 WHERE key = $1`,
		key, value, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("credential not found: %s", key)
	}
	return nil
}

// AddSession はセッションを追加する。
func (r *PostgresAuthRepo) AddSession(ctx context.Context, key string, session model.AdminSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_sessions (token, credential_key, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		session.Token, key, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add session: %w", err)
	}
	return nil
}

// RemoveSession はトークンに一致するセッションを削除する。
func (r *PostgresAuthRepo) RemoveSession(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// FindBySessionToken はnow時点で有効なセッションを持つ資格情報を返す。
// スイープ前の期限切れセッションもここで除外する。
func (r *PostgresAuthRepo) FindBySessionToken(ctx context.Context, token string, now time.Time) (*model.Authentication, error) {
	auth := &model.Authentication{}
	var s model.AdminSession
	err := r.db.QueryRowContext(ctx,
		`SELECT c.key, c.value, c.created_at, c.updated_at, s.token, s.created_at, s.expires_at
		 FROM admin_sessions s
		 JOIN admin_credentials c ON c.key = s.credential_key
		 WHERE s.token = $1 AND s.expires_at > $2`,
		token, now,
	).Scan(&auth.Key, &auth.Value, &auth.CreatedAt, &auth.UpdatedAt, &s.Token, &s.CreatedAt, &s.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	auth.Sessions = []model.AdminSession{s}
	return auth, nil
}

// compile-time interface check
var _ AuthenticationRepository = (*PostgresAuthRepo)(nil)
