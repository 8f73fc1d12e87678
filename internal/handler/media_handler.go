package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/model"
)

// NewMediaHandler はファイルシステムに保存した画像を配信するハンドラーを返す。
// ディレクトリの一覧は返さない。
func NewMediaHandler(prefix, root string) http.Handler {
	files := http.StripPrefix(prefix, http.FileServer(http.Dir(root)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewImageNotFoundError(r.URL.Path, -1))
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		files.ServeHTTP(w, r)
	})
}
