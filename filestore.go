package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is the legacy flat-file credential source: one KEY=VALUE file per
// user, named <userID>.txt. It predates the database store and is kept as a
// fallback so old captures keep working.
type FileStore struct {
	overrideDir string
	logger      Logger
}

// NewFileStore creates a file-backed source. overrideDir, when non-empty, is
// searched before the default locations.
func NewFileStore(overrideDir string, logger Logger) *FileStore {
	return &FileStore{overrideDir: overrideDir, logger: logger}
}

// Load reads the first readable cookie file for the user. The returned bundle
// has no stored user agent; the file format never carried one.
func (s *FileStore) Load(ctx context.Context, userID string) (*CredentialBundle, error) {
	for _, path := range s.candidatePaths(userID) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		bundle := normalizeBundle(parseCookieFile(data))
		bundle.Origin = OriginFile
		if s.logger != nil {
			s.logger.Log("file store: loaded %s (%s)", filepath.Base(path), bundle.Summary())
		}
		return bundle, nil
	}
	return nil, fmt.Errorf("no cookie file for user %s: %w", userID, ErrNoCredentials)
}

// candidatePaths lists search locations in priority order: the override
// directory, a cookies/ directory next to the binary, then cookies/ under the
// working directory.
func (s *FileStore) candidatePaths(userID string) []string {
	name := userID + ".txt"

	var paths []string
	if s.overrideDir != "" {
		paths = append(paths, filepath.Join(s.overrideDir, name))
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "cookies", name))
	}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, "cookies", name))
	}

	seen := make(map[string]bool, len(paths))
	unique := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}
	return unique
}

// parseCookieFile reads KEY=VALUE lines. Blank lines, comments, and lines
// without an equals sign are skipped.
func parseCookieFile(data []byte) map[string]string {
	raw := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		raw[strings.TrimSpace(key)] = value
	}
	return raw
}
