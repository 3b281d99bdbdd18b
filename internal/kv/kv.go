// Package kv is the persistence adapter the object stores mirror into.
//
// Keys are normalized before they reach the backend so that lookups ignore
// superficial formatting differences. When no backend is available the
// adapter runs degraded: every operation is a no-op returning an empty
// result, and the degradation is logged once when the adapter is built.
package kv

import (
	"context"
	"errors"
	"io"
	"log"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned by a Backend's Get for a missing key.
var ErrNotFound = errors.New("not found")

// Backend is the durable store behind the adapter. repo.Repo implements it.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	ScanPrefix(ctx context.Context, prefix string) ([][]byte, error)
}

type Adapter struct {
	backend Backend
	logger  *log.Logger
}

// New wraps backend. A nil backend yields a degraded, memory-only adapter;
// reason explains why and is logged.
func New(backend Backend, logger *log.Logger, reason error) *Adapter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	a := &Adapter{backend: backend, logger: logger}
	if backend == nil {
		if reason == nil {
			reason = errors.New("no backend configured")
		}
		logger.Printf("storage unavailable, data will not persist this session: %v", reason)
	}
	return a
}

// Available reports whether writes reach a durable backend.
func (a *Adapter) Available() bool { return a != nil && a.backend != nil }

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeKey trims, lowercases, collapses whitespace runs to "_" and
// applies Unicode NFC.
func NormalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = whitespace.ReplaceAllString(k, "_")
	return norm.NFC.String(k)
}

func (a *Adapter) Put(key string, value []byte) {
	if !a.Available() {
		return
	}
	if err := a.backend.Put(context.Background(), NormalizeKey(key), value); err != nil {
		a.logger.Printf("storage: put %s: %v", key, err)
	}
}

func (a *Adapter) Delete(key string) {
	if !a.Available() {
		return
	}
	if err := a.backend.Delete(context.Background(), NormalizeKey(key)); err != nil {
		a.logger.Printf("storage: delete %s: %v", key, err)
	}
}

// Get returns the stored value and whether one was found.
func (a *Adapter) Get(key string) ([]byte, bool) {
	if !a.Available() {
		return nil, false
	}
	v, err := a.backend.Get(context.Background(), NormalizeKey(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.logger.Printf("storage: get %s: %v", key, err)
		}
		return nil, false
	}
	return v, true
}

// ScanPrefix returns every value whose normalized key starts with the
// normalized prefix.
func (a *Adapter) ScanPrefix(prefix string) [][]byte {
	if !a.Available() {
		return nil
	}
	vs, err := a.backend.ScanPrefix(context.Background(), NormalizeKey(prefix))
	if err != nil {
		a.logger.Printf("storage: scan %s: %v", prefix, err)
		return nil
	}
	return vs
}

