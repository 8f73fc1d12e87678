// Package imagestore はプロジェクト画像の保存先を抽象化する。
// データベースに埋め込む方式、ローカルファイルシステム、S3互換ストレージの3種類を提供する。
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/hitoshi/atelier/internal/model"
)

// Upload は新規にアップロードされた画像のバイト列とメタデータ。
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Store は画像の保存と削除を行う。
type Store interface {
	// Save はアップロードを保存し、URLとContentTypeを設定したImageを返す。
	Save(ctx context.Context, projectID string, upload Upload) (model.Image, error)
	// Remove は画像の実体を削除する。このストアが管理していない画像は無視する。
	Remove(ctx context.Context, img model.Image) error
	// RemoveProject はプロジェクトの画像をすべて削除する。存在しなくてもエラーにしない。
	RemoveProject(ctx context.Context, projectID string) error
}

var (
	ErrEmptyUpload = errors.New("upload is empty")
	ErrTooLarge    = errors.New("upload exceeds size limit")
	ErrNotImage    = errors.New("upload is not an image")
)

// ValidateUpload はアップロードのサイズと種別を検証し、ContentTypeを確定させたUploadを返す。
// ContentTypeが未指定または汎用の場合は内容から判定する。
func ValidateUpload(upload Upload, maxBytes int64) (Upload, error) {
	if len(upload.Data) == 0 {
		return upload, ErrEmptyUpload
	}
	if maxBytes > 0 && int64(len(upload.Data)) > maxBytes {
		return upload, ErrTooLarge
	}

	declared := normalizeContentType(upload.ContentType)
	sniffed := normalizeContentType(http.DetectContentType(upload.Data))

	switch {
	case strings.HasPrefix(declared, "image/"):
		upload.ContentType = declared
	case strings.HasPrefix(sniffed, "image/"):
		upload.ContentType = sniffed
	default:
		return upload, ErrNotImage
	}
	return upload, nil
}

func normalizeContentType(ct string) string {
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}

// extensionFor はファイル名の拡張子を優先し、なければContentTypeから拡張子を決める。
func extensionFor(upload Upload) string {
	if ext := strings.ToLower(filepath.Ext(upload.Filename)); isSafeExtension(ext) {
		return ext
	}
	if exts, err := mime.ExtensionsByType(upload.ContentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func isSafeExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	for _, r := range ext[1:] {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// validateProjectID はプロジェクトIDがパスやオブジェクトキーの一部として安全かを検証する。
func validateProjectID(projectID string) error {
	if projectID == "" || projectID == "." || projectID == ".." ||
		strings.ContainsAny(projectID, `/\`) || strings.Contains(projectID, "..") {
		return fmt.Errorf("invalid project id: %q", projectID)
	}
	return nil
}
