package uploader

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uploadkit/uploadkit/internal/db"
	"github.com/uploadkit/uploadkit/internal/model"
	"github.com/uploadkit/uploadkit/internal/repository"
	"github.com/uploadkit/uploadkit/internal/storage"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := db.Init("sqlite", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))

	_, err = database.Exec(`CREATE TABLE posts (id TEXT PRIMARY KEY, title TEXT NOT NULL DEFAULT '')`)
	require.NoError(t, err)

	return database
}

func memStore() *storage.Local {
	return storage.NewLocal(afero.NewMemMapFs(), storage.LocalConfig{})
}

type post struct {
	ID    string
	Title string
}

func (p *post) OwnerType() string { return "posts" }
func (p *post) OwnerKey() string  { return p.ID }

func createPost(t *testing.T, database *sqlx.DB, id, title string) *post {
	t.Helper()
	_, err := database.Exec(`INSERT INTO posts (id, title) VALUES (?, ?)`, id, title)
	require.NoError(t, err)
	return &post{ID: id, Title: title}
}

func findPostTitle(t *testing.T, database *sqlx.DB, id string) (string, bool) {
	t.Helper()
	var title string
	err := database.Get(&title, `SELECT title FROM posts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	require.NoError(t, err)
	return title, true
}

// jpegFile builds content that sniffs as image/jpeg.
func jpegFile(name string, size int) *File {
	content := make([]byte, size)
	copy(content, []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	return FileFromBytes(name, content)
}

// recorder captures lifecycle notifications in firing order.
type recorder struct {
	NoopEvents
	started   []string // "dir/filename" per FileStarting
	uploaded  []*model.Upload
	completed [][]*model.Upload
	failed    []error
}

func (r *recorder) FileStarting(_ Owner, filename, dir string) {
	r.started = append(r.started, path.Join(dir, filename))
}

func (r *recorder) FileUploaded(_ Owner, upload *model.Upload) {
	r.uploaded = append(r.uploaded, upload)
}

func (r *recorder) BatchCompleted(_ Owner, uploads []*model.Upload) {
	r.completed = append(r.completed, uploads)
}

func (r *recorder) BatchFailed(err error, _ Owner) {
	r.failed = append(r.failed, err)
}

type env struct {
	db      *sqlx.DB
	store   storage.Storage
	tmp     storage.Storage
	uploads repository.UploadRepository
	up      *Uploader
	rec     *recorder
}

func newEnv(t *testing.T, store storage.Storage, defaults Options) *env {
	t.Helper()

	database := newTestDB(t)
	if store == nil {
		store = memStore()
	}
	tmp := memStore()
	uploads := repository.NewUploadRepository(database, func(string) storage.Storage { return store })
	rec := &recorder{}

	up := New(Config{
		DB:        database,
		Uploads:   uploads,
		Storage:   store,
		Temporary: tmp,
		Owners:    repository.NewOwnerRows(database),
		Defaults:  defaults,
		Events:    []Events{rec},
	})

	return &env{db: database, store: store, tmp: tmp, uploads: uploads, up: up, rec: rec}
}

func TestHandleStoresFileAndRecord(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	err := e.up.Handle(ctx, jpegFile("photo.jpg", 10*1024), owner)
	require.NoError(t, err)

	uploads, err := e.uploads.ForOwner(ctx, "posts", "p1")
	require.NoError(t, err)
	require.Len(t, uploads, 1)

	upload := uploads[0]
	assert.Equal(t, "posts", upload.OwnerType)
	assert.Equal(t, "p1", upload.OwnerID)
	assert.Equal(t, "photo.jpg", upload.OriginalName)
	assert.Equal(t, "jpg", upload.Extension)
	assert.Equal(t, int64(10*1024), upload.Size)
	assert.Equal(t, "image/jpeg", upload.Type)
	assert.True(t, strings.HasPrefix(upload.Path, "posts/p1/"), upload.Path)

	exists, err := e.store.Exists(ctx, upload.Path)
	require.NoError(t, err)
	assert.True(t, exists)

	// Owner untouched
	title, found := findPostTitle(t, e.db, "p1")
	assert.True(t, found)
	assert.Equal(t, "hello", title)
}

func TestHandleBatchKeepsSubmissionOrder(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	files := Group{
		jpegFile("avatar1.jpg", 512),
		Group{jpegFile("avatar2.jpg", 512)},
	}
	require.NoError(t, e.up.Handle(ctx, files, owner))

	require.Len(t, e.rec.uploaded, 2)
	assert.Equal(t, "avatar1.jpg", e.rec.uploaded[0].OriginalName)
	assert.Equal(t, "avatar2.jpg", e.rec.uploaded[1].OriginalName)

	for _, upload := range e.rec.uploaded {
		exists, err := e.store.Exists(ctx, upload.Path)
		require.NoError(t, err)
		assert.True(t, exists, upload.Path)
	}

	require.Len(t, e.rec.completed, 1)
	assert.Len(t, e.rec.completed[0], 2)
}

// failingLoadRepo breaks the post-batch collection load only; writes still
// go through the real repository.
type failingLoadRepo struct {
	repository.UploadRepository
}

func (r *failingLoadRepo) ForOwner(context.Context, string, string) ([]*model.Upload, error) {
	return nil, errors.New("load failed")
}

func TestHandleSkipsCompletedNotificationWhenLoadFails(t *testing.T) {
	database := newTestDB(t)
	store := memStore()
	inner := repository.NewUploadRepository(database, func(string) storage.Storage { return store })
	rec := &recorder{}

	up := New(Config{
		DB:        database,
		Uploads:   &failingLoadRepo{UploadRepository: inner},
		Storage:   store,
		Temporary: memStore(),
		Owners:    repository.NewOwnerRows(database),
		Events:    []Events{rec},
	})

	owner := createPost(t, database, "p1", "hello")
	ctx := context.Background()

	err := up.Handle(ctx, jpegFile("photo.jpg", 256), owner)
	require.NoError(t, err)

	// The upload itself committed
	stored, err := inner.ForOwner(ctx, "posts", "p1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Len(t, rec.uploaded, 1)

	// Observers never see a completed batch with a phantom empty collection
	assert.Empty(t, rec.completed)
	assert.Empty(t, rec.failed)
}

func TestHandleHookFailureLeavesNoTrace(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	boom := errors.New("boom")
	err := e.up.Handle(ctx, jpegFile("photo.jpg", 256), owner,
		WithOwnerState(OwnerCreated),
		WithDeleteModelOnFail(true),
		WithBeforeSave(func(context.Context, *model.Upload, Owner) error { return boom }),
	)

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "photo.jpg", uploadErr.Filename)

	// No record
	uploads, qerr := e.uploads.ForOwnerWithTrashed(ctx, "posts", "p1")
	require.NoError(t, qerr)
	assert.Empty(t, uploads)

	// No bytes at the path that would have been written
	require.Len(t, e.rec.started, 1)
	exists, serr := e.store.Exists(ctx, e.rec.started[0])
	require.NoError(t, serr)
	assert.False(t, exists)

	// Owner deleted: it was created only to carry this upload
	_, found := findPostTitle(t, e.db, "p1")
	assert.False(t, found)

	require.Len(t, e.rec.failed, 1)
}

// failAfter wraps a storage backend and fails every Put past the first n.
type failAfter struct {
	storage.Storage
	allow int
	puts  int
}

func (f *failAfter) Put(ctx context.Context, src io.Reader, dir, filename string, opts storage.PutOptions) (string, error) {
	f.puts++
	if f.puts > f.allow {
		return "", &storage.WriteError{Path: path.Join(dir, filename), Err: errors.New("disk full")}
	}
	return f.Storage.Put(ctx, src, dir, filename, opts)
}

func TestHandleMidBatchFailureKeepsEarlierFiles(t *testing.T) {
	store := &failAfter{Storage: memStore(), allow: 2}
	e := newEnv(t, store, Options{})
	owner := createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	files := Group{
		jpegFile("a.jpg", 128),
		jpegFile("b.jpg", 128),
		jpegFile("c.jpg", 128),
	}
	err := e.up.Handle(ctx, files, owner)
	require.Error(t, err)

	// The first two files are committed facts
	uploads, qerr := e.uploads.ForOwner(ctx, "posts", "p1")
	require.NoError(t, qerr)
	require.Len(t, uploads, 2)
	for _, upload := range uploads {
		exists, serr := e.store.Exists(ctx, upload.Path)
		require.NoError(t, serr)
		assert.True(t, exists, upload.Path)
	}

	// Owner untouched with default rollback flags off
	_, found := findPostTitle(t, e.db, "p1")
	assert.True(t, found)
}

func TestHandleFailureDeletesOwnerOnlyWhenConfigured(t *testing.T) {
	for _, tc := range []struct {
		name       string
		deleteFlag bool
		wantFound  bool
	}{
		{"delete on fail", true, false},
		{"keep on fail", false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := &failAfter{Storage: memStore(), allow: 0}
			e := newEnv(t, store, Options{})
			owner := createPost(t, e.db, "p1", "hello")

			err := e.up.Handle(context.Background(), jpegFile("a.jpg", 128), owner,
				WithOwnerState(OwnerCreated),
				WithDeleteModelOnFail(tc.deleteFlag),
			)
			require.Error(t, err)

			_, found := findPostTitle(t, e.db, "p1")
			assert.Equal(t, tc.wantFound, found)
		})
	}
}

func TestHandleFailureRestoresUpdatedOwner(t *testing.T) {
	for _, tc := range []struct {
		name      string
		rollback  bool
		wantTitle string
	}{
		{"rollback on fail", true, "A"},
		{"no rollback", false, "B"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := &failAfter{Storage: memStore(), allow: 0}
			e := newEnv(t, store, Options{})
			owner := createPost(t, e.db, "p1", "A")

			// Simulate the caller's own update having already been persisted
			_, err := e.db.Exec(`UPDATE posts SET title = ? WHERE id = ?`, "B", "p1")
			require.NoError(t, err)

			err = e.up.Handle(context.Background(), jpegFile("a.jpg", 128), owner,
				WithOwnerState(OwnerUpdated),
				WithOriginalAttributes(map[string]any{"title": "A"}),
				WithRollbackModelOnFail(tc.rollback),
			)
			require.Error(t, err)

			title, found := findPostTitle(t, e.db, "p1")
			require.True(t, found)
			assert.Equal(t, tc.wantTitle, title)
		})
	}
}

func TestHandleReplacesPreviousUploads(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	require.NoError(t, e.up.Handle(ctx, jpegFile("f1.jpg", 128), owner))

	require.NoError(t, e.up.Handle(ctx, jpegFile("f2.jpg", 128), owner,
		WithReplacePreviousUploads(true),
	))

	active, err := e.uploads.ForOwner(ctx, "posts", "p1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "f2.jpg", active[0].OriginalName)

	// Soft replace keeps the superseded row and its bytes around
	all, err := e.uploads.ForOwnerWithTrashed(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHandleReplacePreviousHardDeletesBytes(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	require.NoError(t, e.up.Handle(ctx, jpegFile("f1.jpg", 128), owner))
	first, err := e.uploads.ForOwner(ctx, "posts", "p1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, e.up.Handle(ctx, jpegFile("f2.jpg", 128), owner,
		WithReplacePreviousUploads(true),
		WithForceDeleteUploads(true),
	))

	all, err := e.uploads.ForOwnerWithTrashed(ctx, "posts", "p1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "f2.jpg", all[0].OriginalName)

	exists, err := e.store.Exists(ctx, first[0].Path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandleSkipsWhenDisabled(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	e.up.Registry().DisableFor("posts")
	require.NoError(t, e.up.Handle(ctx, jpegFile("a.jpg", 128), owner))

	uploads, err := e.uploads.ForOwnerWithTrashed(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Empty(t, uploads)

	e.up.Registry().Reset()
	require.NoError(t, e.up.Handle(ctx, jpegFile("a.jpg", 128), owner))

	uploads, err = e.uploads.ForOwner(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Len(t, uploads, 1)
}

func TestHandleWithoutUpload(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := createPost(t, e.db, "p1", "hello")

	require.NoError(t, e.up.Handle(context.Background(), jpegFile("a.jpg", 128), owner, WithoutUpload()))

	uploads, err := e.uploads.ForOwnerWithTrashed(context.Background(), "posts", "p1")
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestHandleValidationFailureDeletesCreatedOwner(t *testing.T) {
	e := newEnv(t, nil, Options{Validate: true})
	owner := createPost(t, e.db, "p1", "hello")

	// Plain text with a .jpg name must not pass content sniffing
	err := e.up.Handle(context.Background(), FileFromBytes("fake.jpg", []byte("just text")), owner,
		WithOwnerState(OwnerCreated),
	)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "fake.jpg", validationErr.Name)

	_, found := findPostTitle(t, e.db, "p1")
	assert.False(t, found)
}

type taggedPost struct{ post }

func (p *taggedPost) UploadOptions() []Option {
	return []Option{WithTag("owner-default")}
}

func TestResolveOptionsPrecedence(t *testing.T) {
	e := newEnv(t, nil, Options{Tag: "process-default"})
	owner := &taggedPost{post{ID: "p1"}}

	resolved := e.up.ResolveOptions(owner)
	assert.Equal(t, "owner-default", resolved.Tag)

	resolved = e.up.ResolveOptions(owner, WithTag("call"))
	assert.Equal(t, "call", resolved.Tag)

	plain := &post{ID: "p2"}
	resolved = e.up.ResolveOptions(plain)
	assert.Equal(t, "process-default", resolved.Tag)
}

func TestHandleNamedBeforeSaveHook(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	e.up.Hooks().Register("tagger", func(_ context.Context, upload *model.Upload, _ Owner) error {
		tag := "hooked"
		upload.Tag = &tag
		return nil
	})

	require.NoError(t, e.up.Handle(ctx, jpegFile("a.jpg", 128), owner, WithBeforeSaveHook("tagger")))

	uploads, err := e.uploads.ForOwner(ctx, "posts", "p1")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	require.NotNil(t, uploads[0].Tag)
	assert.Equal(t, "hooked", *uploads[0].Tag)
}

type avatarPost struct{ post }

func (p *avatarPost) UploadPath(*File) string          { return "avatars" }
func (p *avatarPost) UploadFilename(file *File) string { return "avatar." + file.Ext() }

func TestHandleOwnerPathAndFilenameOverrides(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := &avatarPost{post{ID: "p1"}}
	createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	require.NoError(t, e.up.Handle(ctx, jpegFile("whatever.jpg", 128), owner))

	uploads, err := e.uploads.ForOwner(ctx, "posts", "p1")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "avatars/avatar.jpg", uploads[0].Path)
	assert.Equal(t, "avatar.jpg", uploads[0].Name)
}

func TestHandleAppliesTagAndAttributes(t *testing.T) {
	e := newEnv(t, nil, Options{})
	owner := createPost(t, e.db, "p1", "hello")
	ctx := context.Background()

	require.NoError(t, e.up.Handle(ctx, jpegFile("a.jpg", 128), owner,
		WithTag("gallery"),
		WithAttributes(map[string]string{"original_name": "renamed.jpg"}),
	))

	tagged, err := e.uploads.ForOwnerTagged(ctx, "posts", "p1", "gallery")
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "renamed.jpg", tagged[0].OriginalName)
}
