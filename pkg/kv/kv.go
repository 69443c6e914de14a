// Package kv provides a small named-document store used for state that must
// survive between runs. Every backend replaces a document atomically: a reader
// observes either the previous value or the new one, never a partial write.
package kv

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates no document is stored under the name.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidName indicates the document name is empty or contains a path segment.
	ErrInvalidName = errors.New("invalid document name")
)

// Store reads and atomically replaces named documents.
type Store interface {
	// Get returns the document stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put atomically replaces the document stored under name.
	Put(ctx context.Context, name string, value []byte) error
	// Close releases backend resources.
	Close() error
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return ErrInvalidName
	}
	return nil
}
