package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hitoshi/atelier/internal/model"
)

// S3Config はS3互換ストレージの接続設定。
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PublicBaseURL は画像URLの基底。空の場合はエンドポイントとバケットから組み立てる。
	PublicBaseURL string
}

// S3Store は画像を<bucket>/<projectID>/<uuid><ext>に保存する。
type S3Store struct {
	client     *minio.Client
	bucket     string
	region     string
	publicBase string
}

// NewS3Store はMinIOクライアントを生成する。
func NewS3Store(cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &S3Store{
		client:     client,
		bucket:     cfg.Bucket,
		region:     cfg.Region,
		publicBase: publicBaseURL(cfg),
	}, nil
}

func publicBaseURL(cfg S3Config) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
}

// EnsureBucket はバケットが存在しなければ作成する。
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Save はオブジェクトをアップロードし、公開URLを持つImageを返す。
func (s *S3Store) Save(ctx context.Context, projectID string, upload Upload) (model.Image, error) {
	if err := validateProjectID(projectID); err != nil {
		return model.Image{}, err
	}

	key := projectID + "/" + uuid.NewString() + extensionFor(upload)
	opts := minio.PutObjectOptions{ContentType: upload.ContentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(upload.Data), int64(len(upload.Data)), opts); err != nil {
		return model.Image{}, fmt.Errorf("upload image object: %w", err)
	}

	return model.Image{
		URL:         s.publicBase + "/" + key,
		ContentType: upload.ContentType,
	}, nil
}

// Remove はURLが指すオブジェクトを削除する。
func (s *S3Store) Remove(ctx context.Context, img model.Image) error {
	key, ok := s.objectKey(img.URL)
	if !ok {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove image object: %w", err)
	}
	return nil
}

// RemoveProject はプロジェクトのプレフィックス配下のオブジェクトをすべて削除する。
func (s *S3Store) RemoveProject(ctx context.Context, projectID string) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    projectID + "/",
		Recursive: true,
	})
	for removeErr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if removeErr.Err != nil {
			return fmt.Errorf("remove object %s: %w", removeErr.ObjectName, removeErr.Err)
		}
	}
	return nil
}

// objectKey はこのストアが発行したURLからオブジェクトキーを取り出す。
func (s *S3Store) objectKey(url string) (string, bool) {
	key, found := strings.CutPrefix(url, s.publicBase+"/")
	if !found || key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

// compile-time interface check
var _ Store = (*S3Store)(nil)
