package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigkaa/firestream-console/internal/blobclient"
	"github.com/bigkaa/firestream-console/internal/domain/model"
	"github.com/bigkaa/firestream-console/internal/repository"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- FileRepository в памяти ---

type memFileRepo struct {
	mu        sync.Mutex
	files     map[string]*model.FileRecord
	clock     time.Time
	insertErr error
	listCalls int
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{
		files: make(map[string]*model.FileRecord),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *memFileRepo) Insert(_ context.Context, f *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	for _, existing := range r.files {
		if existing.StoragePath == f.StoragePath {
			return repository.ErrConflict
		}
	}
	r.clock = r.clock.Add(time.Second)
	f.CreatedAt = r.clock
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *memFileRepo) GetOwned(_ context.Context, id, ownerID string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *memFileRepo) ListByOwner(_ context.Context, ownerID string) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var list []*model.FileRecord
	for _, f := range r.files {
		if f.OwnerID == ownerID {
			cp := *f
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (r *memFileRepo) DeleteOwned(_ context.Context, id, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(r.files, id)
	return nil
}

func (r *memFileRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// --- OrphanRepository в памяти ---

type memOrphanRepo struct {
	mu      sync.Mutex
	orphans map[string]*model.OrphanedBlob
}

func newMemOrphanRepo() *memOrphanRepo {
	return &memOrphanRepo{orphans: make(map[string]*model.OrphanedBlob)}
}

func (r *memOrphanRepo) Record(_ context.Context, o *model.OrphanedBlob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.orphans[o.StoragePath]; ok {
		existing.Attempts++
		existing.LastError = o.LastError
		o.Attempts = existing.Attempts
		return nil
	}
	cp := *o
	cp.Attempts = 1
	cp.CreatedAt = time.Now()
	r.orphans[o.StoragePath] = &cp
	o.Attempts = 1
	return nil
}

func (r *memOrphanRepo) ListDue(_ context.Context, limit int) ([]*model.OrphanedBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []*model.OrphanedBlob
	for _, o := range r.orphans {
		cp := *o
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StoragePath < list[j].StoragePath })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *memOrphanRepo) MarkAttempt(_ context.Context, storagePath, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orphans[storagePath]
	if !ok {
		return repository.ErrNotFound
	}
	o.Attempts++
	o.LastError = lastError
	return nil
}

func (r *memOrphanRepo) Remove(_ context.Context, storagePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orphans[storagePath]; !ok {
		return repository.ErrNotFound
	}
	delete(r.orphans, storagePath)
	return nil
}

func (r *memOrphanRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orphans), nil
}

func (r *memOrphanRepo) get(storagePath string) (*model.OrphanedBlob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orphans[storagePath]
	return o, ok
}

// --- APIKeyRepository в памяти ---

type memAPIKeyRepo struct {
	mu    sync.Mutex
	keys  map[string]*model.APIKey
	clock time.Time
}

func newMemAPIKeyRepo() *memAPIKeyRepo {
	return &memAPIKeyRepo{
		keys:  make(map[string]*model.APIKey),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *memAPIKeyRepo) Create(_ context.Context, k *model.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.keys {
		if existing.Key == k.Key {
			return repository.ErrConflict
		}
	}
	r.clock = r.clock.Add(time.Second)
	k.CreatedAt, k.UpdatedAt = r.clock, r.clock
	cp := *k
	r.keys[k.ID] = &cp
	return nil
}

func (r *memAPIKeyRepo) GetByID(_ context.Context, id string) (*model.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (r *memAPIKeyRepo) GetByKey(_ context.Context, key string) (*model.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.Key == key {
			cp := *k
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memAPIKeyRepo) List(_ context.Context) ([]*model.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []*model.APIKey
	for _, k := range r.keys {
		cp := *k
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (r *memAPIKeyRepo) UpdatePermission(_ context.Context, id, permission string) (*model.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r.clock = r.clock.Add(time.Second)
	k.Permission = permission
	k.UpdatedAt = r.clock
	cp := *k
	return &cp, nil
}

func (r *memAPIKeyRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.keys, id)
	return nil
}

// --- UserRepository в памяти ---

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
	// files — если задан, Delete считает файлы пользователя осиротевшими
	files *memFileRepo
}

func newMemUserRepo(users ...*model.User) *memUserRepo {
	r := &memUserRepo{users: make(map[string]*model.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.ID == u.ID || existing.Email == u.Email {
			return repository.ErrConflict
		}
	}
	u.CreatedAt = time.Now()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) List(_ context.Context) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []*model.User
	for _, u := range r.users {
		cp := *u
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *memUserRepo) UpdateRole(_ context.Context, id, role string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u.Role = role
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) Delete(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	_, ok := r.users[id]
	delete(r.users, id)
	r.mu.Unlock()
	if !ok {
		return 0, repository.ErrNotFound
	}
	if r.files == nil {
		return 0, nil
	}
	owned, _ := r.files.ListByOwner(ctx, id)
	for _, f := range owned {
		_ = r.files.DeleteOwned(ctx, f.ID, id)
	}
	return len(owned), nil
}

// --- BlobStore ---

// fakeBlob — управляемая реализация BlobStore.
type fakeBlob struct {
	notConfigured bool
	// uploadFn — поведение Upload; по умолчанию читает тело и возвращает
	// путь uploads/<имя>, размер прочитанного и text/plain.
	uploadFn  func(ctx context.Context, req blobclient.UploadRequest) (*blobclient.UploadedFile, error)
	deleteErr error

	uploads atomic.Int32
	mu      sync.Mutex
	deleted []string
}

func (b *fakeBlob) Configured() bool { return !b.notConfigured }

func (b *fakeBlob) Upload(ctx context.Context, req blobclient.UploadRequest) (*blobclient.UploadedFile, error) {
	b.uploads.Add(1)
	if b.uploadFn != nil {
		return b.uploadFn(ctx, req)
	}
	n, err := io.Copy(io.Discard, req.Body)
	if err != nil {
		return nil, err
	}
	return &blobclient.UploadedFile{
		Name: req.FileName, Path: "uploads/" + req.FileName, Size: n, MimeType: "text/plain",
	}, nil
}

func (b *fakeBlob) Delete(_ context.Context, storagePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, storagePath)
	return b.deleteErr
}

func (b *fakeBlob) deletedPaths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}
