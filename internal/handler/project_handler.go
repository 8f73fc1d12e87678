package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/hitoshi/atelier/internal/imagestore"
	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/project"
)

// フォームのパート名
const (
	imagePartPrefix         = "image-"
	imageDataPartPrefix     = "image-data-"
	existingImagePartPrefix = "existing-image-"
	mainImageIndexField     = "mainImageIndex"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	List(ctx context.Context) ([]model.ProjectSummary, error)
	Get(ctx context.Context, id string) (*model.Project, error)
	Image(ctx context.Context, id string, index int) (*model.Image, error)
	Create(ctx context.Context, sub project.Submission) (*model.Project, error)
	Update(ctx context.Context, id string, sub project.Submission) (*model.Project, error)
	Delete(ctx context.Context, id string) error
}

// ProjectHandlerConfig はプロジェクトハンドラーの設定。
type ProjectHandlerConfig struct {
	// RequestMaxBytes はmultipartリクエスト全体の上限。0以下なら無制限。
	// 値パートとファイルパートを区別せず、この上限だけでボディの大きさを制限する。
	RequestMaxBytes int64
}

// ProjectHandler はプロジェクト管理のHTTPハンドラー。
type ProjectHandler struct {
	service ProjectServiceInterface
	config  ProjectHandlerConfig
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface, config ProjectHandlerConfig) *ProjectHandler {
	return &ProjectHandler{
		service: service,
		config:  config,
	}
}

// existingImagePayload は existing-image-{n} パートのJSON。
type existingImagePayload struct {
	URL         string `json:"url"`
	Alt         string `json:"alt"`
	Description string `json:"description"`
	ContentType string `json:"contentType"`
}

// imageMetadataPayload は image-data-{n} パートのJSON。
type imageMetadataPayload struct {
	Alt         string `json:"alt"`
	Description string `json:"description"`
}

// ListProjects はプロジェクト概要の一覧を返す。
// GET /api/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// GetProject はプロジェクトの詳細を返す。
// GET /api/projects/{id}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetImage はプロジェクト画像の実体を返す。
// GET /api/projects/{id}/images/{index}
// 保存済みのバイト列かdata URIがあればそれを返し、参照URLのみの画像はそのURLへリダイレクトする。
func (h *ProjectHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewImageNotFoundError(id, -1))
		return
	}

	img, err := h.service.Image(r.Context(), id, index)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	contentType, data := img.ContentType, img.Data
	if len(data) == 0 {
		if ct, decoded, ok := imagestore.DecodeDataURI(img.URL); ok {
			data = decoded
			if contentType == "" {
				contentType = ct
			}
		}
	}
	if len(data) == 0 {
		http.Redirect(w, r, img.URL, http.StatusFound)
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(data)
	}
}

// CreateProject はプロジェクトを作成する。
// POST /api/projects (multipart/form-data)
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}

	p, err := h.service.Create(r.Context(), sub)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateProject はプロジェクトを送信内容で全体置換する。
// PUT /api/projects/{id} (multipart/form-data)
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}

	p, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), sub)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProject はプロジェクトを削除する。
// DELETE /api/projects/{id}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, ID: id})
}

// decodeSubmission はmultipartフォームを解析してSubmissionを組み立てる。
// 失敗した場合はエラーレスポンスを書き込んでfalseを返す。
func (h *ProjectHandler) decodeSubmission(w http.ResponseWriter, r *http.Request) (project.Submission, bool) {
	if h.config.RequestMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.RequestMaxBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("multipart/form-dataで送信してください"))
		return project.Submission{}, false
	}
	form, err := readSubmissionForm(mr)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge,
				model.NewInvalidRequestError(fmt.Sprintf("リクエストサイズが上限（%dバイト）を超えています", maxErr.Limit)))
			return project.Submission{}, false
		}
		slog.Warn("failed to read multipart body", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("フォームを読み取れませんでした"))
		return project.Submission{}, false
	}

	sub, err := parseSubmission(form)
	if err != nil {
		handleServiceError(w, r, err)
		return project.Submission{}, false
	}
	return sub, true
}

// submissionForm はmultipartボディを読み切った結果。同名のパートは先頭のものだけを保持する。
type submissionForm struct {
	values map[string]string
	files  map[string]imagestore.Upload
}

// readSubmissionForm はパートを先頭から順にメモリへ読み込む。
// 保存済み画像のdata URIのように大きな値パートもファイルパートと同じく扱い、
// ボディ全体の上限はMaxBytesReaderに任せる。
func readSubmissionForm(mr *multipart.Reader) (*submissionForm, error) {
	form := &submissionForm{
		values: map[string]string{},
		files:  map[string]imagestore.Upload{},
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read part %q: %w", part.FormName(), err)
		}

		name := part.FormName()
		if name == "" {
			continue
		}
		if filename := part.FileName(); filename != "" {
			if _, dup := form.files[name]; !dup {
				form.files[name] = imagestore.Upload{
					Filename:    filename,
					ContentType: part.Header.Get("Content-Type"),
					Data:        data,
				}
			}
			continue
		}
		if _, dup := form.values[name]; !dup {
			form.values[name] = string(data)
		}
	}
}

// parseSubmission はフォームの値を型付きのSubmissionに変換する。
// 画像スロットは image-{n} と existing-image-{n} の番号順に並べる。
// 同じ番号に両方が指定された場合やJSONが不正な場合は検証エラーを返す。
// 各スロットには送信時の番号を持たせ、サービス側の検証エラーも同じキーで返るようにする。
func parseSubmission(form *submissionForm) (project.Submission, error) {
	sub := project.Submission{
		Title:          formValue(form, "title"),
		Summary:        formValue(form, "summary"),
		Description:    formValue(form, "description"),
		MainImageIndex: parseMainImageIndex(formValue(form, mainImageIndexField)),
	}

	fieldErrs := map[string]string{}
	for _, n := range slotIndexes(form) {
		existingKey := existingImagePartPrefix + strconv.Itoa(n)
		imageKey := imagePartPrefix + strconv.Itoa(n)

		existing, hasExisting := form.values[existingKey]
		upload, hasFile := form.files[imageKey]

		switch {
		case hasExisting && hasFile:
			fieldErrs[imageKey] = "同じ位置に保存済みの画像と新しい画像が指定されています。"
		case hasExisting:
			slot, err := decodeExistingSlot(existing)
			if err != nil {
				fieldErrs[existingKey] = "保存済みの画像情報を読み取れませんでした。"
				continue
			}
			sub.Slots = append(sub.Slots, slot.AtPart(n))
		case hasFile:
			meta, err := decodeImageMetadata(form, n)
			if err != nil {
				fieldErrs[imageDataPartPrefix+strconv.Itoa(n)] = "画像の説明を読み取れませんでした。"
				continue
			}
			sub.Slots = append(sub.Slots, project.NewSlot(upload, meta.Alt, meta.Description).AtPart(n))
		}
	}

	if len(fieldErrs) > 0 {
		return project.Submission{}, model.NewValidationError(fieldErrs)
	}
	return sub, nil
}

// slotIndexes は画像パートの番号を重複なく昇順で返す。
func slotIndexes(form *submissionForm) []int {
	var indexes []int
	for key := range form.files {
		if n, ok := partIndex(key, imagePartPrefix); ok {
			indexes = append(indexes, n)
		}
	}
	for key := range form.values {
		if n, ok := partIndex(key, existingImagePartPrefix); ok {
			indexes = append(indexes, n)
		}
	}
	indexes = lo.Uniq(indexes)
	slices.Sort(indexes)
	return indexes
}

func partIndex(key, prefix string) (int, bool) {
	suffix, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func decodeExistingSlot(raw string) (project.ImageSlot, error) {
	var payload existingImagePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return project.ImageSlot{}, err
	}
	if payload.URL == "" {
		return project.ImageSlot{}, errors.New("existing image url is empty")
	}
	return project.ExistingSlot(model.Image{
		URL:         payload.URL,
		Alt:         payload.Alt,
		Description: payload.Description,
		ContentType: payload.ContentType,
	}), nil
}

func decodeImageMetadata(form *submissionForm, n int) (imageMetadataPayload, error) {
	var meta imageMetadataPayload
	raw := formValue(form, imageDataPartPrefix+strconv.Itoa(n))
	if raw == "" {
		return meta, nil
	}
	err := json.Unmarshal([]byte(raw), &meta)
	return meta, err
}

// parseMainImageIndex は数値として解釈できない値を0として扱う。範囲外の値はサービス側で0に丸める。
func parseMainImageIndex(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func formValue(form *submissionForm, key string) string {
	return form.values[key]
}
