package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/atelier/internal/model"
)

// storedImage はJSONBカラムに保存する画像の表現。
// model.ImageはAPI応答でDataを出力しないため、保存用に別の型を使う。
type storedImage struct {
	URL         string `json:"url"`
	Alt         string `json:"alt"`
	Description string `json:"description"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data,omitempty"`
}

func toStoredImage(img model.Image) storedImage {
	return storedImage{
		URL:         img.URL,
		Alt:         img.Alt,
		Description: img.Description,
		ContentType: img.ContentType,
		Data:        img.Data,
	}
}

func (s storedImage) toModel() model.Image {
	return model.Image{
		URL:         s.URL,
		Alt:         s.Alt,
		Description: s.Description,
		ContentType: s.ContentType,
		Data:        s.Data,
	}
}

func encodeImages(images []model.Image) ([]byte, error) {
	stored := make([]storedImage, len(images))
	for i, img := range images {
		stored[i] = toStoredImage(img)
	}
	return json.Marshal(stored)
}

func decodeImages(raw []byte) ([]model.Image, error) {
	var stored []storedImage
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	images := make([]model.Image, len(stored))
	for i, s := range stored {
		images[i] = s.toModel()
	}
	return images, nil
}

func encodeImage(img model.Image) ([]byte, error) {
	return json.Marshal(toStoredImage(img))
}

func decodeImage(raw []byte) (model.Image, error) {
	var s storedImage
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.Image{}, err
	}
	return s.toModel(), nil
}

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// List はプロジェクト概要を作成日時の降順で返す。
func (r *PostgresProjectRepo) List(ctx context.Context) ([]model.ProjectSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, summary, main_image, jsonb_array_length(images), created_at
		 FROM projects
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	summaries := []model.ProjectSummary{}
	for rows.Next() {
		var s model.ProjectSummary
		var mainRaw []byte
		if err := rows.Scan(&s.ID, &s.Title, &s.Summary, &mainRaw, &s.ImageCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project summary: %w", err)
		}
		if s.MainImage, err = decodeImage(mainRaw); err != nil {
			return nil, fmt.Errorf("failed to decode main image of %s: %w", s.ID, err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}

	return summaries, nil
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	p := &model.Project{}
	var imagesRaw, mainRaw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, summary, description, images, main_image, created_at, updated_at
		 FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Title, &p.Summary, &p.Description, &imagesRaw, &mainRaw, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by ID: %w", err)
	}

	if p.Images, err = decodeImages(imagesRaw); err != nil {
		return nil, fmt.Errorf("failed to decode images of %s: %w", id, err)
	}
	if p.MainImage, err = decodeImage(mainRaw); err != nil {
		return nil, fmt.Errorf("failed to decode main image of %s: %w", id, err)
	}

	return p, nil
}

// Create はプロジェクトを作成する。
func (r *PostgresProjectRepo) Create(ctx context.Context, project *model.Project) error {
	imagesRaw, mainRaw, err := encodeProjectImages(project)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO projects (id, title, summary, description, images, main_image, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		project.ID, project.Title, project.Summary, project.Description,
		imagesRaw, mainRaw, project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Update はプロジェクトを全体置換で更新する。対象が存在しない場合はfalseを返す。
// created_atは更新しない。
func (r *PostgresProjectRepo) Update(ctx context.Context, project *model.Project) (bool, error) {
	imagesRaw, mainRaw, err := encodeProjectImages(project)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE projects
		 SET title = $2, summary = $3, description = $4, images = $5, main_image = $6, updated_at = $7
		 WHERE id = $1`,
		project.ID, project.Title, project.Summary, project.Description,
		imagesRaw, mainRaw, project.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update project: %w", err)
	}
	return affectedOne(result)
}

// Delete は指定IDのプロジェクトを削除する。対象が存在しない場合はfalseを返す。
func (r *PostgresProjectRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete project: %w", err)
	}
	return affectedOne(result)
}

// ImageAt は指定プロジェクトのindex番目の画像を返す。
// JSONBの添字アクセスで対象の1要素だけを読み出す。
func (r *PostgresProjectRepo) ImageAt(ctx context.Context, id string, index int) (*model.Image, error) {
	if index < 0 {
		return nil, nil
	}

	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT images -> $2::int FROM projects WHERE id = $1`,
		id, index,
	).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) || (err == nil && raw == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project image: %w", err)
	}

	img, err := decodeImage(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s[%d]: %w", id, index, err)
	}
	return &img, nil
}

func encodeProjectImages(project *model.Project) ([]byte, []byte, error) {
	imagesRaw, err := encodeImages(project.Images)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode images: %w", err)
	}
	mainRaw, err := encodeImage(project.MainImage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode main image: %w", err)
	}
	return imagesRaw, mainRaw, nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
