// Package realtime is the path-addressed key tree read live by mobile clients.
//
// A node is a flat set of string fields addressed by a slash-separated path
// such as "threads/thread_h1_t2/messages/3". Writing a node registers it in
// its parent's ordered child index so that children can be listed page by
// page. Every write is field-level: Update touches only the fields it is
// given, and SetIfAbsent never overwrites an existing node.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"tradiehub/internal/apperr"
)

// ServerTimestamp, used as a field value, is replaced by the store's own clock
// (milliseconds since epoch) at write time.
const ServerTimestamp = `{".sv":"timestamp"}`

// ErrNodeNotFound is returned by Get when nothing is stored at the path.
var ErrNodeNotFound = fmt.Errorf("%w: realtime node", apperr.ErrNotFound)

// Node is the set of fields stored at one path.
type Node map[string]string

func (n Node) Int(field string) int64 {
	v, _ := strconv.ParseInt(n[field], 10, 64)
	return v
}

func (n Node) Bool(field string) bool {
	b, _ := strconv.ParseBool(n[field])
	return b
}

// Time reads a millisecond timestamp field.
func (n Node) Time(field string) time.Time {
	ms := n.Int(field)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

type Store interface {
	Get(ctx context.Context, path string) (Node, error)
	// Set replaces the node's fields.
	Set(ctx context.Context, path string, fields Node) error
	// SetIfAbsent writes the node only if nothing exists at path and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, path string, fields Node) (bool, error)
	// Update writes only the given fields, leaving the rest of the node intact.
	Update(ctx context.Context, path string, fields Node) error
	Remove(ctx context.Context, path string) error
	// Increment atomically adds delta to an integer field and returns the new value.
	Increment(ctx context.Context, path, field string, delta int64) (int64, error)
	// Children lists child names of path in insertion order.
	Children(ctx context.Context, path string, offset, limit int64) ([]string, error)
}

// Join builds a store path from segments.
func Join(elem ...string) string {
	return path.Join(elem...)
}

func parentOf(p string) (parent, name string) {
	dir, name := path.Split(p)
	return path.Clean(dir), name
}

// unavailable classifies a transport error as ErrStoreUnavailable while
// keeping the original error and any deadline in the chain.
func unavailable(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("realtime %s %s: %w: %w", op, p, apperr.ErrStoreUnavailable, err)
}
