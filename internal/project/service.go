package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hitoshi/atelier/internal/imagestore"
	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/repository"
	"github.com/hitoshi/atelier/internal/security"
)

// 保存済み画像にContentTypeがない場合の既定値
const defaultContentType = "image/jpeg"

// ServiceConfig はプロジェクトサービスの設定。
type ServiceConfig struct {
	// MaxUploadBytes は1画像あたりの最大サイズ。0以下なら無制限。
	MaxUploadBytes int64
}

// Service はプロジェクトのビジネスロジックを提供する。
// 画像配列の組み立て（reconcile）はこのサービスだけが行う。
type Service struct {
	repo      repository.ProjectRepository
	store     imagestore.Store
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	config    ServiceConfig
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。collectorがnilの場合は記録しない。
func NewService(
	repo repository.ProjectRepository,
	store imagestore.Store,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		store:     store,
		sanitizer: sanitizer,
		metrics:   collector,
		config:    config,
		now:       time.Now,
		newID:     func() string { return "project-" + uuid.NewString() },
	}
}

// List はプロジェクト概要を新しい順に返す。
func (s *Service) List(ctx context.Context) ([]model.ProjectSummary, error) {
	summaries, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	if summaries == nil {
		summaries = []model.ProjectSummary{}
	}
	return summaries, nil
}

// Get は指定IDのプロジェクトを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if p == nil {
		return nil, model.NewProjectNotFoundError(id)
	}
	return p, nil
}

// Image は指定プロジェクトのindex番目の画像を返す。
func (s *Service) Image(ctx context.Context, id string, index int) (*model.Image, error) {
	if index < 0 {
		return nil, model.NewImageNotFoundError(id, index)
	}
	img, err := s.repo.ImageAt(ctx, id, index)
	if err != nil {
		return nil, fmt.Errorf("failed to find image: %w", err)
	}
	if img == nil {
		return nil, model.NewImageNotFoundError(id, index)
	}
	return img, nil
}

// Create は新しいプロジェクトを作成する。
// 画像を1枚以上含む必要がある。新規画像は保存先に書き込んでからレコードを作成し、
// レコード作成に失敗した場合は書き込んだ画像を削除する。
func (s *Service) Create(ctx context.Context, sub Submission) (p *model.Project, err error) {
	defer func() { s.observe("create", err) }()

	id := s.newID()
	p, written, err := s.reconcile(ctx, id, nil, sub)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.UpdatedAt

	if err := s.repo.Create(ctx, p); err != nil {
		s.discard(ctx, id, written)
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	slog.Info("プロジェクトを作成しました", "project_id", id, "images", len(p.Images))
	return p, nil
}

// Update はプロジェクトを送信内容で全体置換する。
// 送信に含まれなかった画像は削除扱いとなり、コミット後に保存先からも削除する。
func (s *Service) Update(ctx context.Context, id string, sub Submission) (p *model.Project, err error) {
	defer func() { s.observe("update", err) }()

	base, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if base == nil {
		return nil, model.NewProjectNotFoundError(id)
	}

	p, written, err := s.reconcile(ctx, id, base, sub)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = base.CreatedAt

	ok, err := s.repo.Update(ctx, p)
	if err != nil {
		s.discard(ctx, id, written)
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	if !ok {
		// 読み込み後に削除された
		s.discard(ctx, id, written)
		return nil, model.NewProjectNotFoundError(id)
	}

	dropped := lo.Filter(base.Images, func(img model.Image, _ int) bool {
		return !p.HasImage(img)
	})
	s.discard(ctx, id, dropped)

	slog.Info("プロジェクトを更新しました",
		"project_id", id,
		"images", len(p.Images),
		"added", len(written),
		"dropped", len(dropped),
	)
	return p, nil
}

// Delete はプロジェクトを削除し、保存先のプロジェクト画像もすべて削除する。
// 画像の削除失敗はログに記録するのみで、レコード削除は取り消さない。
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	defer func() { s.observe("delete", err) }()

	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if !ok {
		return model.NewProjectNotFoundError(id)
	}

	if err := s.store.RemoveProject(ctx, id); err != nil {
		slog.Error("プロジェクト画像の削除に失敗しました", "project_id", id, "error", err)
	}

	slog.Info("プロジェクトを削除しました", "project_id", id)
	return nil
}

// reconcile は送信内容から保存すべきプロジェクトを組み立てる。
// baseは更新前のプロジェクトで、作成時はnil。
// 検証はすべての書き込みより前に行い、書き込み途中で失敗した場合は
// この呼び出しで書き込んだ画像を削除してから返す。
// 戻り値のwrittenは新規に書き込んだ画像で、呼び出し側のコミット失敗時の後始末に使う。
func (s *Service) reconcile(ctx context.Context, id string, base *model.Project, sub Submission) (*model.Project, []model.Image, error) {
	f, fieldErrs := validateFields(sub)

	var stored map[string]model.Image
	if base != nil {
		stored = lo.KeyBy(base.Images, func(img model.Image) string { return img.URL })
	}

	slots := make([]ImageSlot, len(sub.Slots))
	for i, slot := range sub.Slots {
		switch slot.Kind {
		case SlotExisting:
			prev, ok := stored[slot.Existing.URL]
			if !ok {
				fieldErrs[fmt.Sprintf("existing-image-%d", slot.partNumber(i))] = "保存済みの画像と一致しません。ページを再読み込みしてください。"
				continue
			}
			slot.Existing = prev
		case SlotNew:
			upload, err := imagestore.ValidateUpload(slot.Upload, s.config.MaxUploadBytes)
			if err != nil {
				fieldErrs[fmt.Sprintf("image-%d", slot.partNumber(i))] = uploadErrorMessage(err)
				continue
			}
			slot.Upload = upload
		default:
			fieldErrs[fmt.Sprintf("image-%d", slot.partNumber(i))] = "画像の種別が不明です。"
			continue
		}
		slots[i] = slot
	}

	if len(fieldErrs) > 0 {
		return nil, nil, model.NewValidationError(fieldErrs)
	}
	if len(slots) == 0 {
		return nil, nil, model.NewImageRequiredError()
	}

	images := make([]model.Image, 0, len(slots))
	var written []model.Image
	for i, slot := range slots {
		if slot.Kind == SlotExisting {
			images = append(images, s.carryOver(f.title, i, slot))
			continue
		}

		img, err := s.store.Save(ctx, id, slot.Upload)
		if err != nil {
			s.discard(ctx, id, written)
			return nil, nil, fmt.Errorf("failed to store image %d: %w", i, err)
		}
		written = append(written, img)

		img.Alt = s.sanitizer.Sanitize(slot.Alt)
		if img.Alt == "" {
			img.Alt = f.title + " - " + slot.Upload.Filename
		}
		img.Description = s.sanitizer.Sanitize(slot.Description)
		images = append(images, img)
	}
	s.metrics.RecordImagesStored(len(written))

	now := s.now()
	return &model.Project{
		ID:          id,
		Title:       f.title,
		Summary:     f.summary,
		Description: f.description,
		Images:      images,
		MainImage:   images[resolveMainIndex(sub.MainImageIndex, len(images))],
		UpdatedAt:   now,
	}, written, nil
}

// carryOver は保存済み画像を引き継ぐ。
// URL・データ・ContentTypeは保存済みの値を使い、代替テキストと説明は送信値で上書きする。
func (s *Service) carryOver(title string, position int, slot ImageSlot) model.Image {
	img := slot.Existing
	img.Alt = s.sanitizer.Sanitize(slot.Alt)
	if img.Alt == "" {
		img.Alt = fmt.Sprintf("%s - Image %d", title, position+1)
	}
	img.Description = s.sanitizer.Sanitize(slot.Description)
	if img.ContentType == "" {
		img.ContentType = defaultContentType
	}
	return img
}

// discard は画像を保存先から削除する。失敗はログに記録するのみ。
func (s *Service) discard(ctx context.Context, id string, images []model.Image) {
	for _, img := range images {
		if err := s.store.Remove(ctx, img); err != nil {
			slog.Warn("画像の削除に失敗しました", "project_id", id, "content_type", img.ContentType, "error", err)
		}
	}
}

func (s *Service) observe(op string, err error) {
	var apiErr *model.APIError
	switch {
	case err == nil:
		s.metrics.RecordReconciliation(op, "success")
	case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeValidation:
		s.metrics.RecordReconciliation(op, "validation")
	case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeProjectNotFound:
		s.metrics.RecordReconciliation(op, "not_found")
	default:
		s.metrics.RecordReconciliation(op, "error")
	}
}

func uploadErrorMessage(err error) string {
	switch {
	case errors.Is(err, imagestore.ErrEmptyUpload):
		return "画像ファイルが空です。"
	case errors.Is(err, imagestore.ErrTooLarge):
		return "画像ファイルのサイズが上限を超えています。"
	case errors.Is(err, imagestore.ErrNotImage):
		return "画像ファイルを選択してください。"
	default:
		return "画像ファイルを読み込めませんでした。"
	}
}
