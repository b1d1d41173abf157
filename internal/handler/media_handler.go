package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pinlite/internal/domain"
	"pinlite/internal/service"
)

type MediaHandler struct {
	mediaService *service.MediaService
}

func NewMediaHandler(mediaService *service.MediaService) *MediaHandler {
	return &MediaHandler{mediaService: mediaService}
}

// Upload принимает multipart-загрузку и стримит часть "file" прямо в
// сервис, не буферизуя тело в памяти или на диске целиком.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, err := authorizedUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, domain.NewValidationError("Expected multipart/form-data request"))
		return
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, domain.NewValidationError("Malformed multipart request"))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		asset, err := h.mediaService.UploadAsset(r.Context(), userID, part, part.FileName())
		part.Close()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, asset)
		return
	}

	writeError(w, domain.NewValidationError("Field 'file' is required"))
}

// Feed — публичная лента, новые ассеты первыми.
func (h *MediaHandler) Feed(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}

	assets, err := h.mediaService.GetFeed(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// My — галерея текущего пользователя.
func (h *MediaHandler) My(w http.ResponseWriter, r *http.Request) {
	userID, err := authorizedUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	limit, offset, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}

	assets, err := h.mediaService.GetUserGallery(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := authorizedUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	assetID, err := uuid.Parse(chi.URLParam(r, "asset_id"))
	if err != nil {
		writeError(w, domain.NewValidationError("Invalid asset id"))
		return
	}

	if err := h.mediaService.DeleteAsset(r.Context(), userID, assetID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeFile отдаёт оригинал по дайджесту. Запасной путь на случай,
// когда статику не раздаёт reverse proxy.
func (h *MediaHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	path, err := h.mediaService.ResolveOriginal(chi.URLParam(r, "digest"))
	if err != nil {
		writeError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (h *MediaHandler) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	path, err := h.mediaService.ResolveThumbnail(chi.URLParam(r, "digest"))
	if err != nil {
		writeError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func parsePage(r *http.Request) (limit, offset int, err error) {
	limit = 20
	offset = 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			return 0, 0, domain.NewValidationError("Parameter 'limit' must be between 1 and 100")
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, domain.NewValidationError("Parameter 'offset' must be non-negative")
		}
	}
	return limit, offset, nil
}
