// files.go — обработчики /api/v1/files.
// Приём multipart-тела: каждая часть поля "files" сохраняется во временный
// файл (не в память), после чего части загружаются независимо и параллельно.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/firestream-console/internal/api/errors"
	"github.com/bigkaa/firestream-console/internal/api/middleware"
	"github.com/bigkaa/firestream-console/internal/domain/model"
	"github.com/bigkaa/firestream-console/internal/service"
)

const (
	// uploadFormField — имя поля multipart с файлами.
	uploadFormField = "files"
	// maxFilesPerRequest — предел числа файлов в одном запросе.
	maxFilesPerRequest = 32
)

// ListFiles — GET /api/v1/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	files, err := h.files.List(r.Context(), principalID(p))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newListResponse(files))
}

// uploadItem — результат загрузки одного файла из пакета.
type uploadItem struct {
	Name  string                 `json:"name"`
	File  *model.FileRecord      `json:"file,omitempty"`
	Error *apierrors.ErrorDetail `json:"error,omitempty"`
}

// UploadFiles — POST /api/v1/files (multipart/form-data, поле "files").
// Один файл: 201 с записью или ответ ошибки.
// Несколько файлов: 201 если все загружены, иначе 207 с результатом по каждому.
func (h *APIHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	inputs, cleanup, err := h.readUploadParts(r)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	defer cleanup()

	if len(inputs) == 1 {
		rec, err := h.files.Upload(r.Context(), principalID(p), inputs[0])
		if err != nil {
			apierrors.WriteServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
		return
	}

	results := h.files.UploadBatch(r.Context(), principalID(p), inputs)

	items := make([]uploadItem, len(results))
	status := http.StatusCreated
	for i, res := range results {
		items[i] = uploadItem{Name: res.Name, File: res.File}
		if res.Err != nil {
			_, detail := apierrors.Describe(res.Err)
			items[i].Error = &detail
			status = http.StatusMultiStatus
		}
	}

	writeJSON(w, status, newListResponse(items))
}

// deleteFileResponse — ответ на удаление файла.
type deleteFileResponse struct {
	ID string `json:"id"`
	// BlobRetained — blob остался в хранилище и поставлен в очередь очистки
	BlobRetained bool `json:"blob_retained"`
}

// DeleteFile — DELETE /api/v1/files/{id}.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")

	res, err := h.files.Delete(r.Context(), principalID(p), id)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteFileResponse{ID: res.File.ID, BlobRetained: res.BlobRetained})
}

// readUploadParts читает части поля "files" во временные файлы.
// Часть сверх maxUploadSize не дочитывается в файл: её заявленный размер
// превышает предел, и сервис отклоняет её без обращения к хранилищу.
// cleanup закрывает и удаляет временные файлы.
func (h *APIHandler) readUploadParts(r *http.Request) ([]service.UploadInput, func(), error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ожидается multipart/form-data", service.ErrValidation)
	}

	var (
		temps  []*os.File
		inputs []service.UploadInput
	)
	cleanup := func() {
		for _, f := range temps {
			name := f.Name()
			_ = f.Close()
			_ = os.Remove(name)
		}
	}
	fail := func(err error) ([]service.UploadInput, func(), error) {
		cleanup()
		return nil, nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("%w: некорректное multipart-тело: %v", service.ErrValidation, err))
		}
		if part.FormName() != uploadFormField || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		if len(inputs) == maxFilesPerRequest {
			_ = part.Close()
			return fail(fmt.Errorf("%w: не более %d файлов в запросе", service.ErrValidation, maxFilesPerRequest))
		}

		tmp, err := os.CreateTemp("", "fc-upload-*")
		if err != nil {
			_ = part.Close()
			return fail(fmt.Errorf("создание временного файла: %w", err))
		}
		temps = append(temps, tmp)

		n, err := io.Copy(tmp, io.LimitReader(part, h.maxUploadSize+1))
		if err != nil {
			_ = part.Close()
			return fail(fmt.Errorf("%w: обрыв тела запроса: %v", service.ErrValidation, err))
		}
		_ = part.Close()

		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return fail(fmt.Errorf("чтение временного файла: %w", err))
		}

		inputs = append(inputs, service.UploadInput{
			Name:     part.FileName(),
			MimeType: part.Header.Get("Content-Type"),
			Size:     n,
			Body:     tmp,
		})
	}

	if len(inputs) == 0 {
		return fail(fmt.Errorf("%w: нет файлов в поле %q", service.ErrValidation, uploadFormField))
	}
	return inputs, cleanup, nil
}

func principalID(p *model.Principal) string {
	if p == nil {
		return ""
	}
	return p.UserID
}
