package imagestore

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/hitoshi/atelier/internal/model"
)

// EmbeddedStore は画像をdata URIとしてプロジェクトのレコードに埋め込む。
// 外部に実体を持たないため削除は何もしない。
type EmbeddedStore struct{}

// NewEmbeddedStore はEmbeddedStoreを生成する。
func NewEmbeddedStore() *EmbeddedStore {
	return &EmbeddedStore{}
}

// Save はdata URIを生成し、生バイト列もDataとして保持する。
func (s *EmbeddedStore) Save(_ context.Context, _ string, upload Upload) (model.Image, error) {
	return model.Image{
		URL:         DataURI(upload.ContentType, upload.Data),
		ContentType: upload.ContentType,
		Data:        upload.Data,
	}, nil
}

func (s *EmbeddedStore) Remove(context.Context, model.Image) error { return nil }

func (s *EmbeddedStore) RemoveProject(context.Context, string) error { return nil }

// DataURI はbase64のdata URIを組み立てる。
func DataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI はbase64のdata URIを分解する。data URIでなければokはfalse。
func DecodeDataURI(uri string) (contentType string, data []byte, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", nil, false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", nil, false
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return contentType, data, true
}

// compile-time interface check
var _ Store = (*EmbeddedStore)(nil)
