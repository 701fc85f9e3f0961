// Package store persists named collections of JSON records.
//
// A collection is read and written as a whole document: either a list of
// records or a single object. All operations on one collection are
// serialized; different collections never block each other.
package store

import (
	"context"
	"errors"
	"regexp"
	"sync"
)

// Well-known collections.
const (
	CollectionClinic       = "clinic"
	CollectionDoctors      = "doctors"
	CollectionServices     = "services"
	CollectionAppointments = "appointments"
	CollectionCallLog      = "call_log"
	CollectionAudit        = "audit_log"
)

var (
	ErrInvalidName = errors.New("store: invalid collection name")
	ErrNotFound    = errors.New("store: record not found")
)

// UpdateFunc receives the current document (nil when the collection does not
// exist yet) and returns the replacement. Returning nil bytes skips the write.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the persistence contract for record collections.
type Store interface {
	// Read returns the raw document, or nil when the collection is missing.
	Read(ctx context.Context, name string) ([]byte, error)
	// Write replaces the whole document.
	Write(ctx context.Context, name string, doc []byte) error
	// Update is an atomic read-modify-write under the collection lock.
	Update(ctx context.Context, name string, fn UpdateFunc) error
}

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func checkName(name string) error {
	if !validName.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// lockSet hands out one mutex per collection name.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *lockSet) get(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	return m
}
