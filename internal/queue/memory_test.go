package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uploadkit/uploadkit/internal/db"
	"github.com/uploadkit/uploadkit/internal/model"
	"github.com/uploadkit/uploadkit/internal/repository"
	"github.com/uploadkit/uploadkit/internal/storage"
	"github.com/uploadkit/uploadkit/internal/uploader"
)

type post struct {
	ID string
}

func (p *post) OwnerType() string { return "posts" }
func (p *post) OwnerKey() string  { return p.ID }

type harness struct {
	db      *sqlx.DB
	store   storage.Storage
	tmp     storage.Storage
	uploads repository.UploadRepository
	queue   *Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	database, err := db.Init("sqlite", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))
	_, err = database.Exec(`CREATE TABLE posts (id TEXT PRIMARY KEY, title TEXT NOT NULL DEFAULT '')`)
	require.NoError(t, err)
	_, err = database.Exec(`INSERT INTO posts (id, title) VALUES ('p1', 'hello')`)
	require.NoError(t, err)

	store := storage.NewLocal(afero.NewMemMapFs(), storage.LocalConfig{})
	tmp := storage.NewLocal(afero.NewMemMapFs(), storage.LocalConfig{})
	uploads := repository.NewUploadRepository(database, func(string) storage.Storage { return store })

	up := uploader.New(uploader.Config{
		DB:        database,
		Uploads:   uploads,
		Storage:   store,
		Temporary: tmp,
		Owners:    repository.NewOwnerRows(database),
	})

	resolvers := uploader.NewResolverRegistry()
	resolvers.Register("posts", func(_ context.Context, key string) (uploader.Owner, error) {
		return &post{ID: key}, nil
	})

	return &harness{
		db:      database,
		store:   store,
		tmp:     tmp,
		uploads: uploads,
		queue:   NewMemory(up, tmp, resolvers, 4),
	}
}

func jpegFile(name string, size int) *uploader.File {
	content := make([]byte, size)
	copy(content, []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	return uploader.FileFromBytes(name, content)
}

func TestDispatchAndProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := &post{ID: "p1"}

	options := uploader.Options{Queue: "default"}
	require.NoError(t, h.queue.Dispatch(ctx, []uploader.Source{jpegFile("photo.jpg", 10*1024)}, owner, options))

	payload := <-h.queue.jobs
	var job Job
	require.NoError(t, json.Unmarshal(payload, &job))
	assert.Equal(t, "default", job.Queue)
	assert.Equal(t, "posts", job.OwnerType)
	assert.Equal(t, "p1", job.OwnerKey)
	require.Len(t, job.Paths, 1)

	// The staged copy exists until the job runs
	staged, err := h.tmp.Exists(ctx, job.Paths[0])
	require.NoError(t, err)
	assert.True(t, staged)

	require.NoError(t, h.queue.Process(ctx, payload))

	uploads, err := h.uploads.ForOwner(ctx, "posts", "p1")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "image/jpeg", uploads[0].Type)

	exists, err := h.store.Exists(ctx, uploads[0].Path)
	require.NoError(t, err)
	assert.True(t, exists)

	// The marshaling copy is gone
	staged, err = h.tmp.Exists(ctx, job.Paths[0])
	require.NoError(t, err)
	assert.False(t, staged)
}

func TestDispatchRejectsClosureOptions(t *testing.T) {
	h := newHarness(t)
	owner := &post{ID: "p1"}

	options := uploader.Options{Queue: "default"}
	uploader.WithBeforeSave(func(context.Context, *model.Upload, uploader.Owner) error {
		return nil
	})(&options)

	err := h.queue.Dispatch(context.Background(), []uploader.Source{jpegFile("a.jpg", 64)}, owner, options)
	assert.ErrorIs(t, err, ErrUnserializable)
}

func TestDispatchRequiresRegisteredResolver(t *testing.T) {
	h := newHarness(t)

	err := h.queue.Dispatch(context.Background(), []uploader.Source{jpegFile("a.jpg", 64)},
		ownerWithType{&post{ID: "c1"}, "comments"}, uploader.Options{Queue: "default"})
	assert.ErrorContains(t, err, "no resolver registered")
}

// ownerWithType overrides the polymorphic type tag for tests.
type ownerWithType struct {
	uploader.Owner
	typ string
}

func (o ownerWithType) OwnerType() string { return o.typ }

func TestProcessRejectsMalformedPayload(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.queue.Process(context.Background(), []byte("{not json")))
}

func TestWorkerProcessesDispatchedJobs(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	owner := &post{ID: "p1"}

	h.queue.Start(ctx)

	require.NoError(t, h.queue.Dispatch(ctx, []uploader.Source{jpegFile("photo.jpg", 512)}, owner,
		uploader.Options{Queue: "default"}))

	require.Eventually(t, func() bool {
		uploads, err := h.uploads.ForOwner(context.Background(), "posts", "p1")
		return err == nil && len(uploads) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	h.queue.Wait()
}
