package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/uploadkit/uploadkit/internal/storage"
	"github.com/uploadkit/uploadkit/internal/uploader"
)

// Memory is an in-process queue backed by a buffered channel. Dispatch
// stages live file handles to the temporary disk so the job payload is pure
// JSON; the worker reads them back and runs the normal upload sequence.
type Memory struct {
	uploader  *uploader.Uploader
	tmp       storage.Storage
	resolvers *uploader.ResolverRegistry
	jobs      chan []byte
	wg        sync.WaitGroup
}

func NewMemory(u *uploader.Uploader, tmp storage.Storage, resolvers *uploader.ResolverRegistry, buffer int) *Memory {
	if buffer <= 0 {
		buffer = 64
	}
	return &Memory{
		uploader:  u,
		tmp:       tmp,
		resolvers: resolvers,
		jobs:      make(chan []byte, buffer),
	}
}

// Dispatch stages the batch and enqueues its job. Options carrying a
// call-scoped closure are rejected: the worker cannot reconstruct them.
func (m *Memory) Dispatch(ctx context.Context, files []uploader.Source, owner uploader.Owner, options uploader.Options) error {
	if options.BeforeSave != nil {
		return fmt.Errorf("%w: use a named before-save hook instead of a closure", ErrUnserializable)
	}
	if !m.resolvers.Has(owner.OwnerType()) {
		return fmt.Errorf("cannot queue upload for owner type %q: no resolver registered", owner.OwnerType())
	}

	paths, err := m.stage(ctx, files)
	if err != nil {
		return err
	}

	job := Job{
		ID:        uuid.NewString(),
		Queue:     options.Queue,
		Paths:     paths,
		OwnerType: owner.OwnerType(),
		OwnerKey:  owner.OwnerKey(),
		Options:   options,
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnserializable, err)
	}

	select {
	case m.jobs <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stage copies live file handles to the temporary disk under unique names.
// Sources that already are temporary paths pass through untouched.
func (m *Memory) stage(ctx context.Context, files []uploader.Source) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, src := range files {
		switch s := src.(type) {
		case uploader.TempPath:
			paths = append(paths, string(s))
		case *uploader.File:
			name := uuid.NewString()
			if s.Name != "" {
				name += "-" + path.Base(s.Name)
			}
			staged, err := m.tmp.Put(ctx, bytes.NewReader(s.Content), "tmp", name, storage.PutOptions{})
			if err != nil {
				return nil, fmt.Errorf("failed to stage file %s: %w", s.Name, err)
			}
			paths = append(paths, staged)
		default:
			return nil, fmt.Errorf("cannot stage upload source %T", src)
		}
	}
	return paths, nil
}

// Start runs the worker loop until ctx is cancelled.
func (m *Memory) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-m.jobs:
				if err := m.Process(ctx, payload); err != nil {
					slog.Error("queued upload job failed", "error", err)
				}
			}
		}
	}()
}

// Wait blocks until the worker loop has exited.
func (m *Memory) Wait() {
	m.wg.Wait()
}

// Process executes one job payload: rehydrate the owner, point the upload
// sequence at the staged paths, run it with the job's option snapshot.
func (m *Memory) Process(ctx context.Context, payload []byte) error {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to decode upload job: %w", err)
	}

	owner, err := m.resolvers.Resolve(ctx, job.OwnerType, job.OwnerKey)
	if err != nil {
		return fmt.Errorf("failed to resolve owner for job %s: %w", job.ID, err)
	}

	files := make(uploader.Group, 0, len(job.Paths))
	for _, p := range job.Paths {
		files = append(files, uploader.TempPath(p))
	}

	return m.uploader.HandleWithOptions(ctx, files, owner, job.Options)
}
