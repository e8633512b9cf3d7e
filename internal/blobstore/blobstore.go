// SPDX-License-Identifier: MIT

// Package blobstore is the C6 TTS Materializer's blob-persistence
// collaborator: it turns synthesized audio bytes into a URL the client can
// fetch. The only implementation in this tree is local-disk; the Store
// interface is the seam a future object-storage-backed implementation
// would fill in without touching internal/tts.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Store persists audio bytes and returns a URL the client can fetch them
// from.
type Store interface {
	// Put persists data under a key derived from fingerprint and returns
	// its URL. Calling Put twice with the same fingerprint and identical
	// bytes is safe and returns the same URL (content-addressed write).
	Put(ctx context.Context, fingerprint string, data []byte, contentType string) (url string, err error)
}

// LocalStore writes audio blobs beneath a root directory and serves them
// back from baseURL + "/{key}". Blobs are named by the SHA-256 of
// their content so concurrent writers racing on the same fingerprint
// converge on one file.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore builds a LocalStore rooted at dir, serving blobs from
// baseURL (e.g. "https://sessions.example.com/audio").
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root dir: %w", err)
	}
	return &LocalStore{root: dir, baseURL: baseURL}, nil
}

// Put writes data to a content-addressed path and returns its URL.
func (s *LocalStore) Put(_ context.Context, fingerprint string, data []byte, contentType string) (string, error) {
	key := contentKey(data)
	path := filepath.Join(s.root, key+extensionFor(contentType))

	if _, err := os.Stat(path); err == nil {
		return s.urlFor(filepath.Base(path)), nil
	}

	// renameio handles: temp file creation, fsync, atomic rename, cleanup on error
	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("blobstore: create pending file for %s: %w", fingerprint, err)
	}
	defer pendingFile.Cleanup() //nolint:errcheck // best-effort cleanup if not committed

	if _, err := pendingFile.Write(data); err != nil {
		return "", fmt.Errorf("blobstore: write %s: %w", fingerprint, err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("blobstore: finalize %s: %w", fingerprint, err)
	}

	return s.urlFor(filepath.Base(path)), nil
}

func (s *LocalStore) urlFor(name string) string {
	return s.baseURL + "/" + name
}

func contentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func extensionFor(contentType string) string {
	switch contentType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
