package queue

import (
	"errors"

	"github.com/uploadkit/uploadkit/internal/uploader"
)

// ErrUnserializable means the options attached to a batch cannot cross a
// queue boundary, for example a call-scoped before-save closure. Register
// the callback in the hook registry and reference it by name instead.
var ErrUnserializable = errors.New("upload options cannot be serialized for queue dispatch")

// Job is the wire form of a queued upload batch. Files are referenced by
// their staged temporary-disk paths; the owner travels as its polymorphic
// type tag and key and is rehydrated by the worker.
type Job struct {
	ID        string           `json:"id"`
	Queue     string           `json:"queue"`
	Paths     []string         `json:"paths"`
	OwnerType string           `json:"owner_type"`
	OwnerKey  string           `json:"owner_key"`
	Options   uploader.Options `json:"options"`
}
