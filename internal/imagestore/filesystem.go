package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/atelier/internal/model"
)

// FilesystemStore は画像を<root>/<projectID>/<uuid><ext>に保存する。
// URLは<urlPrefix>/<projectID>/<ファイル名>で、ファイルサーバーから配信する。
type FilesystemStore struct {
	root      string
	urlPrefix string
}

// NewFilesystemStore はFilesystemStoreを生成し、ルートディレクトリを作成する。
func NewFilesystemStore(root, urlPrefix string) (*FilesystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &FilesystemStore{root: abs, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Root はルートディレクトリの絶対パスを返す。
func (s *FilesystemStore) Root() string {
	return s.root
}

// Save はファイルを書き込み、参照URLを持つImageを返す。
func (s *FilesystemStore) Save(_ context.Context, projectID string, upload Upload) (model.Image, error) {
	if err := validateProjectID(projectID); err != nil {
		return model.Image{}, err
	}

	dir := filepath.Join(s.root, projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.Image{}, fmt.Errorf("failed to create project dir: %w", err)
	}

	name := uuid.NewString() + extensionFor(upload)
	if err := os.WriteFile(filepath.Join(dir, name), upload.Data, 0o644); err != nil {
		return model.Image{}, fmt.Errorf("failed to write image: %w", err)
	}

	return model.Image{
		URL:         s.urlPrefix + "/" + projectID + "/" + name,
		ContentType: upload.ContentType,
	}, nil
}

// Remove はURLが指すファイルを削除する。既に存在しない場合はエラーにしない。
func (s *FilesystemStore) Remove(_ context.Context, img model.Image) error {
	path, ok := s.pathFor(img.URL)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return nil
}

// RemoveProject はプロジェクトのディレクトリを再帰的に削除する。
func (s *FilesystemStore) RemoveProject(_ context.Context, projectID string) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, projectID)); err != nil {
		return fmt.Errorf("failed to remove project dir: %w", err)
	}
	return nil
}

// pathFor はこのストアが発行したURLをファイルパスに変換する。
// ルート外を指すURLや他のストアのURLはokがfalseになる。
func (s *FilesystemStore) pathFor(url string) (string, bool) {
	rel, found := strings.CutPrefix(url, s.urlPrefix+"/")
	if !found || rel == "" {
		return "", false
	}
	path := filepath.Join(s.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

// compile-time interface check
var _ Store = (*FilesystemStore)(nil)
