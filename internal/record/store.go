package record

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roadmapper/roadmap/internal/utils"
)

// Ext is the file extension of record files.
const Ext = ".md"

// IDPrefix prefixes locally generated issue IDs.
const IDPrefix = "rm-"

// Store is a directory of records, one file per issue.
type Store struct {
	Dir string
}

// NewStore returns a record store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// PathFor returns the canonical path of the record for id.
func (s *Store) PathFor(id string) string {
	return filepath.Join(s.Dir, id+Ext)
}

// Paths lists record files, sorted.
func (s *Store) Paths() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.Dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if path != s.Dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == Ext && !strings.HasPrefix(d.Name(), ".") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records in %s: %w", s.Dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Load reads and parses one record.
func (s *Store) Load(path string) (*Record, error) {
	data, err := os.ReadFile(path) // #nosec G304 - record paths come from Paths
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", path, err)
	}
	return Parse(path, data)
}

// LoadAll parses every record. Records that fail to parse are reported in
// errs and skipped; the rest are returned.
func (s *Store) LoadAll() (recs []*Record, errs []error, err error) {
	paths, err := s.Paths()
	if err != nil {
		return nil, nil, err
	}
	for _, p := range paths {
		rec, perr := s.Load(p)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, errs, nil
}

// Write serializes rec to its path, or to PathFor(rec.Issue.ID) when the
// record has no path yet.
func (s *Store) Write(rec *Record) error {
	if rec.Path == "" {
		rec.Path = s.PathFor(rec.Issue.ID)
	}
	data, err := Marshal(rec)
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(rec.Path, data, 0o644); err != nil {
		return fmt.Errorf("write record %s: %w", rec.Path, err)
	}
	rec.Issue.Path = rec.Path
	return nil
}

// Remove deletes a record file.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove record %s: %w", path, err)
	}
	return nil
}

// Archive moves a record into archiveDir, keeping its file name.
func (s *Store) Archive(path, archiveDir string) (string, error) {
	if err := os.MkdirAll(archiveDir, 0o750); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	dest := filepath.Join(archiveDir, filepath.Base(path))
	if err := utils.RenameWithRetry(path, dest, 3, 0); err != nil {
		return "", fmt.Errorf("archive record %s: %w", path, err)
	}
	return dest, nil
}

// NewID returns a fresh local issue ID.
func NewID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return IDPrefix + hex.EncodeToString(b[:])
}
