package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/firestream-console/internal/blobclient"
)

const owner = "user-1"

type fileFixture struct {
	svc     *FileService
	files   *memFileRepo
	orphans *memOrphanRepo
	blob    *fakeBlob
}

func newFileFixture(t *testing.T, blob BlobStore, maxSize int64) *fileFixture {
	t.Helper()
	fx := &fileFixture{
		files:   newMemFileRepo(),
		orphans: newMemOrphanRepo(),
	}
	if fb, ok := blob.(*fakeBlob); ok {
		fx.blob = fb
	}
	fx.svc = NewFileService(fx.files, fx.orphans, blob, NewListingCache(16, time.Minute), FileServiceConfig{
		MaxUploadSize:     maxSize,
		BlobTimeout:       5 * time.Second,
		DBTimeout:         time.Second,
		UploadConcurrency: 2,
	}, testLogger())
	return fx
}

func textInput(name string, size int) UploadInput {
	return UploadInput{
		Name:     name,
		MimeType: "text/plain",
		Size:     int64(size),
		Body:     strings.NewReader(strings.Repeat("a", size)),
	}
}

func TestFileService_Upload_StoreValuesAreAuthoritative(t *testing.T) {
	blob := &fakeBlob{uploadFn: func(_ context.Context, req blobclient.UploadRequest) (*blobclient.UploadedFile, error) {
		_, _ = io.Copy(io.Discard, req.Body)
		return &blobclient.UploadedFile{Name: req.FileName, Path: "store/xyz", Size: 2048, MimeType: "text/markdown"}, nil
	}}
	fx := newFileFixture(t, blob, 1<<20)

	rec, err := fx.svc.Upload(context.Background(), owner, UploadInput{
		Name: "readme.md", MimeType: "application/octet-stream", Size: 10, Body: strings.NewReader("0123456789"),
	})
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	if rec.Size != 2048 || rec.StoragePath != "store/xyz" {
		t.Errorf("запись должна содержать значения хранилища, получено size=%d path=%q", rec.Size, rec.StoragePath)
	}
	if rec.MimeType == nil || *rec.MimeType != "text/markdown" {
		t.Errorf("MimeType = %v, ожидается text/markdown", rec.MimeType)
	}
	if rec.OwnerID != owner || rec.Name != "readme.md" {
		t.Errorf("запись = %+v", rec)
	}

	stored, err := fx.files.GetOwned(context.Background(), rec.ID, owner)
	if err != nil {
		t.Fatalf("запись не сохранена: %v", err)
	}
	if stored.Size != 2048 || stored.StoragePath != "store/xyz" {
		t.Errorf("сохранённая запись = %+v", stored)
	}
}

func TestFileService_Upload_StoreErrors(t *testing.T) {
	tests := []struct {
		name    string
		blobErr error
		want    error
	}{
		{"ключ отклонён", fmt.Errorf("wrap: %w", blobclient.ErrUnauthorized), ErrCredentialRejected},
		{"413", blobclient.ErrPayloadTooLarge, ErrPayloadTooLarge},
		{"недоступно", blobclient.ErrUnavailable, ErrStorageUnavailable},
		{"таймаут", blobclient.ErrTimeout, ErrUpstreamTimeout},
		{"прочее", blobclient.ErrUpstream, ErrUpstreamUploadFailed},
		{"не сконфигурирован", blobclient.ErrNotConfigured, ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := &fakeBlob{uploadFn: func(context.Context, blobclient.UploadRequest) (*blobclient.UploadedFile, error) {
				return nil, tt.blobErr
			}}
			fx := newFileFixture(t, blob, 1<<20)

			_, err := fx.svc.Upload(context.Background(), owner, textInput("a.txt", 5))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Upload() ошибка = %v, ожидается %v", err, tt.want)
			}
			if fx.files.count() != 0 {
				t.Error("при ошибке хранилища запись не должна создаваться")
			}
		})
	}
}

// Ответ 401 от настоящего HTTP-хранилища: CredentialRejected, записи нет.
func TestFileService_Upload_CredentialRejectedOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client, err := blobclient.New(blobclient.Options{BaseURL: server.URL, APIKey: "bad", Timeout: 5 * time.Second, DialTimeout: time.Second}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	fx := newFileFixture(t, client, 1<<20)

	_, err = fx.svc.Upload(context.Background(), owner, textInput("a.txt", 100))
	if !errors.Is(err, ErrCredentialRejected) {
		t.Fatalf("Upload() ошибка = %v, ожидается ErrCredentialRejected", err)
	}
	if fx.files.count() != 0 {
		t.Error("запись не должна создаваться")
	}
}

func TestFileService_Upload_TooLargeNeverContactsStore(t *testing.T) {
	blob := &fakeBlob{}
	fx := newFileFixture(t, blob, 1024)

	_, err := fx.svc.Upload(context.Background(), owner, textInput("big.txt", 1025))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Upload() ошибка = %v, ожидается ErrPayloadTooLarge", err)
	}
	if n := blob.uploads.Load(); n != 0 {
		t.Errorf("хранилище вызвано %d раз, ожидается 0", n)
	}
}

// Размер неизвестен заранее: превышение обнаруживается при чтении.
func TestFileService_Upload_TooLargeWhileStreaming(t *testing.T) {
	blob := &fakeBlob{}
	fx := newFileFixture(t, blob, 1024)

	in := textInput("big.txt", 4096)
	in.Size = -1

	_, err := fx.svc.Upload(context.Background(), owner, in)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Upload() ошибка = %v, ожидается ErrPayloadTooLarge", err)
	}
	if fx.files.count() != 0 {
		t.Error("запись не должна создаваться")
	}
}

func TestFileService_Upload_ExactlyAtLimit(t *testing.T) {
	fx := newFileFixture(t, &fakeBlob{}, 1024)

	in := textInput("edge.txt", 1024)
	in.Size = -1
	rec, err := fx.svc.Upload(context.Background(), owner, in)
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	if rec.Size != 1024 {
		t.Errorf("Size = %d, ожидается 1024", rec.Size)
	}
}

func TestFileService_Upload_Validation(t *testing.T) {
	fx := newFileFixture(t, &fakeBlob{}, 1024)
	ctx := context.Background()

	if _, err := fx.svc.Upload(ctx, "", textInput("a.txt", 1)); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("без владельца: %v, ожидается ErrUnauthorized", err)
	}
	if _, err := fx.svc.Upload(ctx, owner, textInput("  ", 1)); !errors.Is(err, ErrValidation) {
		t.Errorf("пустое имя: %v, ожидается ErrValidation", err)
	}
	if _, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "a"}); !errors.Is(err, ErrValidation) {
		t.Errorf("без содержимого: %v, ожидается ErrValidation", err)
	}

	notConfigured := newFileFixture(t, &fakeBlob{notConfigured: true}, 1024)
	if _, err := notConfigured.svc.Upload(ctx, owner, textInput("a.txt", 1)); !errors.Is(err, ErrConfiguration) {
		t.Errorf("без конфигурации: %v, ожидается ErrConfiguration", err)
	}
	if notConfigured.blob.uploads.Load() != 0 {
		t.Error("хранилище не должно вызываться без конфигурации")
	}
}

func TestFileService_Upload_StripsDirectories(t *testing.T) {
	fx := newFileFixture(t, &fakeBlob{}, 1024)

	rec, err := fx.svc.Upload(context.Background(), owner, textInput(`C:\docs\..\report.txt`, 3))
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	if rec.Name != "report.txt" {
		t.Errorf("Name = %q, ожидается report.txt", rec.Name)
	}
}

// Отмена запроса вызывающим после старта не должна терять подтверждённый blob.
func TestFileService_Upload_DetachedFromCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	blob := &fakeBlob{uploadFn: func(blobCtx context.Context, req blobclient.UploadRequest) (*blobclient.UploadedFile, error) {
		cancel()
		if blobCtx.Err() != nil {
			return nil, blobCtx.Err()
		}
		_, _ = io.Copy(io.Discard, req.Body)
		return &blobclient.UploadedFile{Path: "p/1", Size: 1, MimeType: "text/plain"}, nil
	}}
	fx := newFileFixture(t, blob, 1024)

	rec, err := fx.svc.Upload(ctx, owner, textInput("a.txt", 1))
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	if _, err := fx.files.GetOwned(context.Background(), rec.ID, owner); err != nil {
		t.Errorf("запись должна быть создана после подтверждения хранилища: %v", err)
	}
}

func TestFileService_Upload_MetadataFailureCompensates(t *testing.T) {
	t.Run("компенсирующее удаление успешно", func(t *testing.T) {
		blob := &fakeBlob{}
		fx := newFileFixture(t, blob, 1024)
		fx.files.insertErr = errors.New("db down")

		if _, err := fx.svc.Upload(context.Background(), owner, textInput("a.txt", 3)); err == nil {
			t.Fatal("Upload() должен вернуть ошибку")
		}
		if got := blob.deletedPaths(); len(got) != 1 || got[0] != "uploads/a.txt" {
			t.Errorf("компенсирующее удаление = %v", got)
		}
		if n, _ := fx.orphans.Count(context.Background()); n != 0 {
			t.Errorf("очередь очистки = %d, ожидается 0", n)
		}
	})

	t.Run("компенсирующее удаление не удалось", func(t *testing.T) {
		blob := &fakeBlob{deleteErr: blobclient.ErrUnavailable}
		fx := newFileFixture(t, blob, 1024)
		fx.files.insertErr = errors.New("db down")

		if _, err := fx.svc.Upload(context.Background(), owner, textInput("a.txt", 3)); err == nil {
			t.Fatal("Upload() должен вернуть ошибку")
		}
		o, ok := fx.orphans.get("uploads/a.txt")
		if !ok {
			t.Fatal("blob должен попасть в очередь очистки")
		}
		if _, err := uuid.Parse(o.FileID); err != nil {
			t.Errorf("FileID осиротевшего blob не UUID: %q", o.FileID)
		}
	})
}

func TestFileService_UploadBatch_IndependentResults(t *testing.T) {
	blob := &fakeBlob{uploadFn: func(_ context.Context, req blobclient.UploadRequest) (*blobclient.UploadedFile, error) {
		n, _ := io.Copy(io.Discard, req.Body)
		if req.FileName == "bad.txt" {
			return nil, blobclient.ErrUpstream
		}
		return &blobclient.UploadedFile{Path: "uploads/" + req.FileName, Size: n, MimeType: "text/plain"}, nil
	}}
	fx := newFileFixture(t, blob, 1024)

	inputs := []UploadInput{
		textInput("one.txt", 1),
		textInput("bad.txt", 2),
		textInput("three.txt", 3),
		textInput("four.txt", 4),
	}
	results := fx.svc.UploadBatch(context.Background(), owner, inputs)

	if len(results) != len(inputs) {
		t.Fatalf("результатов %d, ожидается %d", len(results), len(inputs))
	}
	for i, r := range results {
		if r.Name != inputs[i].Name {
			t.Errorf("результат %d: Name = %q, ожидается %q", i, r.Name, inputs[i].Name)
		}
	}
	if !errors.Is(results[1].Err, ErrUpstreamUploadFailed) {
		t.Errorf("bad.txt: ошибка = %v", results[1].Err)
	}
	for _, i := range []int{0, 2, 3} {
		if results[i].Err != nil || results[i].File == nil {
			t.Errorf("%s: %+v", inputs[i].Name, results[i])
		}
	}
	if fx.files.count() != 3 {
		t.Errorf("сохранено %d записей, ожидается 3", fx.files.count())
	}
}

func TestFileService_Delete_BlobFailureIsNotAnError(t *testing.T) {
	blob := &fakeBlob{deleteErr: blobclient.ErrTimeout}
	fx := newFileFixture(t, blob, 1024)
	ctx := context.Background()

	rec, err := fx.svc.Upload(ctx, owner, textInput("a.txt", 3))
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}

	// Прогреваем кэш списка
	if list, _ := fx.svc.List(ctx, owner); len(list) != 1 {
		t.Fatalf("List() до удаления = %d записей", len(list))
	}

	res, err := fx.svc.Delete(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if !res.BlobRetained {
		t.Error("BlobRetained должен быть true при ошибке хранилища")
	}

	list, err := fx.svc.List(ctx, owner)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	for _, f := range list {
		if f.ID == rec.ID {
			t.Fatal("удалённый файл остался в списке")
		}
	}

	o, ok := fx.orphans.get(rec.StoragePath)
	if !ok {
		t.Fatal("blob не поставлен в очередь очистки")
	}
	if o.FileID != rec.ID || o.OwnerID != owner {
		t.Errorf("запись очистки = %+v", o)
	}
}

func TestFileService_Delete_ForeignOwnerIsNotFound(t *testing.T) {
	blob := &fakeBlob{}
	fx := newFileFixture(t, blob, 1024)
	ctx := context.Background()

	rec, err := fx.svc.Upload(ctx, owner, textInput("a.txt", 3))
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}

	if _, err := fx.svc.Delete(ctx, "intruder", rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() чужим владельцем = %v, ожидается ErrNotFound", err)
	}
	if _, err := fx.svc.Delete(ctx, owner, uuid.New().String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() несуществующего = %v, ожидается ErrNotFound", err)
	}
	if _, err := fx.svc.Delete(ctx, owner, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() с некорректным ID = %v, ожидается ErrNotFound", err)
	}
	if _, err := fx.svc.Delete(ctx, "", rec.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Delete() без владельца = %v, ожидается ErrUnauthorized", err)
	}

	if fx.files.count() != 1 {
		t.Error("файл не должен быть удалён")
	}
	if len(blob.deletedPaths()) != 0 {
		t.Error("хранилище не должно вызываться")
	}
}

func TestFileService_List(t *testing.T) {
	fx := newFileFixture(t, &fakeBlob{}, 1024)
	ctx := context.Background()

	if _, err := fx.svc.List(ctx, ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("List() без владельца = %v, ожидается ErrUnauthorized", err)
	}

	first, _ := fx.svc.Upload(ctx, owner, textInput("first.txt", 1))
	second, _ := fx.svc.Upload(ctx, owner, textInput("second.txt", 1))
	if _, err := fx.svc.Upload(ctx, "someone-else", textInput("other.txt", 1)); err != nil {
		t.Fatal(err)
	}

	list, err := fx.svc.List(ctx, owner)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("List() должен вернуть файлы владельца, новые первыми: %+v", list)
	}

	// Повторный List обслуживается из кэша
	calls := fx.files.listCalls
	if _, err := fx.svc.List(ctx, owner); err != nil {
		t.Fatal(err)
	}
	if fx.files.listCalls != calls {
		t.Error("повторный List() должен обслуживаться из кэша")
	}

	// Upload инвалидирует кэш
	third, _ := fx.svc.Upload(ctx, owner, textInput("third.txt", 1))
	list, _ = fx.svc.List(ctx, owner)
	if len(list) != 3 || list[0].ID != third.ID {
		t.Errorf("после Upload список не обновлён: %+v", list)
	}
}

// Сценарий: загрузка notes.txt (2 KB) через HTTP-хранилище и удаление
// при отказе хранилища удалять blob.
func TestFileService_NotesScenario(t *testing.T) {
	var mu sync.Mutex
	stored := map[string][]byte{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/upload":
			if r.Header.Get(blobclient.APIKeyHeader) != "svc-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			f, hdr, err := r.FormFile(blobclient.FormField)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			path := "uploads/" + uuid.New().String() + "-" + hdr.Filename

			mu.Lock()
			stored[path] = data
			mu.Unlock()

			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": "uploaded",
				"files": []map[string]any{{
					"name": hdr.Filename, "path": path, "size": len(data), "mimeType": "text/plain",
				}},
			})
		case r.Method == http.MethodDelete:
			// Хранилище отказывает в удалении
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	client, err := blobclient.New(blobclient.Options{
		BaseURL: server.URL, APIKey: "svc-key", Timeout: 5 * time.Second, DialTimeout: time.Second,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	fx := newFileFixture(t, client, 1<<20)
	ctx := context.Background()

	content := bytes.Repeat([]byte("n"), 2048)
	rec, err := fx.svc.Upload(ctx, owner, UploadInput{
		Name: "notes.txt", MimeType: "text/plain", Size: int64(len(content)), Body: bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	if rec.Size != 2048 {
		t.Errorf("Size = %d, ожидается 2048", rec.Size)
	}
	if rec.MimeType == nil || *rec.MimeType != "text/plain" {
		t.Errorf("MimeType = %v, ожидается text/plain", rec.MimeType)
	}
	if !strings.HasSuffix(rec.StoragePath, "-notes.txt") {
		t.Errorf("StoragePath = %q", rec.StoragePath)
	}
	mu.Lock()
	if !bytes.Equal(stored[rec.StoragePath], content) {
		t.Error("хранилище получило искажённое содержимое")
	}
	mu.Unlock()

	res, err := fx.svc.Delete(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if !res.BlobRetained {
		t.Error("BlobRetained должен быть true")
	}

	list, err := fx.svc.List(ctx, owner)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() после удаления = %d записей, ожидается 0", len(list))
	}
}

func TestLimitedBody(t *testing.T) {
	lb := &limitedBody{r: strings.NewReader("12345"), remaining: 5}
	data, err := io.ReadAll(lb)
	if err != nil || string(data) != "12345" || lb.exceeded.Load() {
		t.Errorf("ровно лимит: data=%q err=%v exceeded=%v", data, err, lb.exceeded.Load())
	}

	lb = &limitedBody{r: strings.NewReader("123456"), remaining: 5}
	if _, err := io.ReadAll(lb); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("превышение: err=%v", err)
	}
	if !lb.exceeded.Load() {
		t.Error("exceeded должен быть выставлен")
	}
}

func TestCleanFileName(t *testing.T) {
	tests := map[string]string{
		"notes.txt":        "notes.txt",
		"dir/notes.txt":    "notes.txt",
		`dir\sub\file.bin`: "file.bin",
		"  spaced.txt  ":   "spaced.txt",
		"":                 "",
		"..":               "",
		"/":                "",
	}
	for in, want := range tests {
		if got := cleanFileName(in); got != want {
			t.Errorf("cleanFileName(%q) = %q, ожидается %q", in, got, want)
		}
	}
}

var _ BlobStore = (*blobclient.Client)(nil)

// Экземпляры консоли с отключённым кэшем над общими метаданными:
// удаление через один сразу видно в списке другого.
func TestFileService_List_SharedMetadataAcrossInstances(t *testing.T) {
	ctx := context.Background()
	files := newMemFileRepo()
	orphans := newMemOrphanRepo()
	newInstance := func() *FileService {
		return NewFileService(files, orphans, &fakeBlob{}, NewListingCache(16, 0), FileServiceConfig{
			MaxUploadSize: 1024, BlobTimeout: time.Second, DBTimeout: time.Second, UploadConcurrency: 1,
		}, testLogger())
	}
	a, b := newInstance(), newInstance()

	rec, err := a.Upload(ctx, owner, textInput("shared.txt", 4))
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	if list, _ := b.List(ctx, owner); len(list) != 1 {
		t.Fatalf("второй экземпляр видит %d записей, ожидается 1", len(list))
	}

	if _, err := a.Delete(ctx, owner, rec.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	list, err := b.List(ctx, owner)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("удалённый файл %s остался в списке второго экземпляра", rec.ID)
	}
}

// hangingDeleteBlob не отвечает на удаление до отмены контекста.
type hangingDeleteBlob struct {
	fakeBlob
}

func (b *hangingDeleteBlob) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFileService_Delete_UsesDeleteTimeout(t *testing.T) {
	ctx := context.Background()
	files := newMemFileRepo()
	orphans := newMemOrphanRepo()
	svc := NewFileService(files, orphans, &hangingDeleteBlob{}, NewListingCache(16, 0), FileServiceConfig{
		MaxUploadSize:     1024,
		BlobTimeout:       time.Minute,
		BlobDeleteTimeout: 50 * time.Millisecond,
		DBTimeout:         time.Second,
		UploadConcurrency: 1,
	}, testLogger())

	rec, err := svc.Upload(ctx, owner, textInput("slow.txt", 2))
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}

	start := time.Now()
	res, err := svc.Delete(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Delete() занял %v, ожидается таймаут удаления", elapsed)
	}
	if !res.BlobRetained {
		t.Error("BlobRetained должен быть true после таймаута удаления")
	}
	if _, ok := orphans.get(rec.StoragePath); !ok {
		t.Error("blob не поставлен в очередь очистки")
	}
}
