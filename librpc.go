// Package librpc provides the ambient helpers shared by every package in
// this module: error wrapping, generic concurrent maps and sets, id
// generation, and a marker for the "main" connection context.
package librpc

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"iter"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type contextKey int

const mainContextKey contextKey = 0

// IsMainContext reports whether ctx was derived from MakeMainContext.
func IsMainContext(ctx context.Context) bool {
	val := ctx.Value(mainContextKey)
	if val == nil {
		return false
	}
	b, ok := val.(bool)
	return ok && b
}

// MakeMainContext marks ctx as belonging to the process that owns the
// connection, as opposed to a context derived for a single call.
func MakeMainContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, mainContextKey, true)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStack wraps err with a stack trace unless it already carries one.
// Every error returned across a package boundary in this module passes
// through WithStack exactly once, at its origin.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); !ok {
		return errors.WithStack(err)
	}
	return err
}

// StackTrace renders err's stack trace, or the empty string if it has none.
func StackTrace(err error) string {
	buf := &bytes.Buffer{}
	if err, ok := err.(stackTracer); ok {
		for _, f := range err.StackTrace() {
			fmt.Fprintf(buf, "%+v\n", f)
		}
	}
	return buf.String()
}

var lastSeqCounter uint64

// Increment atomically adds 1 to the counter at prevPointer and returns
// the new value, so successive calls on the same counter are strictly
// increasing.
func Increment(prevPointer *uint64) uint64 {
	for {
		previous := atomic.LoadUint64(prevPointer)
		next := previous + 1
		if atomic.CompareAndSwapUint64(prevPointer, previous, next) {
			return next
		}
	}
}

// NextSeqno returns the next value from the package-wide sequence counter.
func NextSeqno() uint64 {
	return Increment(&lastSeqCounter)
}

// NextCallID generates a random UUIDv4 string, unique within a
// connection's outbound-call table as required by spec.md §4.E.
func NextCallID() string {
	return uuid.New().String()
}

const fallbackIDLen = 16

// RandomID returns a base64-less random token, used where a UUID would
// be overkill (internal fixture ids in tests).
func RandomID() string {
	b := make([]byte, fallbackIDLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("%x", b)
}

// Set is a lightweight generic set, used for subscription-refcount and
// dispatch-table bookkeeping where only membership matters.
type Set[K comparable] map[K]struct{}

func (s Set[K]) Set(k K) { s[k] = struct{}{} }

func (s Set[K]) Del(k K) { delete(s, k) }

func (s Set[K]) Has(k K) bool {
	_, found := s[k]
	return found
}

// SyncMap is a mutex-guarded generic map, used for the outbound/inbound
// call tables, the subscription refcount map, and the serializer and
// transport registries.
type SyncMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{m: map[K]V{}}
}

func (s *SyncMap[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, found := s.m[key]
	return v, found
}

func (s *SyncMap[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *SyncMap[K, V]) Del(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

func (s *SyncMap[K, V]) Has(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.m[key]
	return found
}

func (s *SyncMap[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *SyncMap[K, V]) Clone() map[K]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.m)
}

func (s *SyncMap[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for k := range s.m {
			if !yield(k) {
				return
			}
		}
	}
}

func (s *SyncMap[K, V]) Each() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for k, v := range s.m {
			if !yield(k, v) {
				return
			}
		}
	}
}
