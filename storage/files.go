package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ikman_scrooper/identity"
	"ikman_scrooper/logging"
	"ikman_scrooper/models"
)

const (
	recordsDirName = "json"
	imagesDirName  = "images"
)

// StorageError is an I/O failure on the persisted record set.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// FileStore keeps one JSON file per listing under <root>/json and the
// listing's images under <root>/images/<id>. The record files are the only
// record of which listings have been scraped.
type FileStore struct {
	root    string
	records string
	images  string
	logger  *logging.Logger
}

func NewFileStore(root string, logger *logging.Logger) (*FileStore, error) {
	s := &FileStore{
		root:    root,
		records: filepath.Join(root, recordsDirName),
		images:  filepath.Join(root, imagesDirName),
		logger:  logger,
	}
	for _, dir := range []string{s.records, s.images} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &StorageError{Op: "init", Path: dir, Err: err}
		}
	}
	return s, nil
}

func (s *FileStore) RecordsDir() string { return s.records }
func (s *FileStore) ImagesDir() string  { return s.images }

// ImageDir is where the images of one listing live.
func (s *FileStore) ImageDir(listingID string) string {
	return filepath.Join(s.images, listingID)
}

// KnownIDs lists the ids of every stored record. A record found through a
// search result whose URL carries a different id is also known under that
// URL id, so the listing is recognized from either side on the next run.
func (s *FileStore) KnownIDs() (map[string]struct{}, error) {
	stems, err := s.stems()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(stems))
	for _, id := range stems {
		ids[id] = struct{}{}
		if alias := s.urlID(id); alias != "" {
			ids[alias] = struct{}{}
		}
	}
	return ids, nil
}

func (s *FileStore) stems() ([]string, error) {
	entries, err := os.ReadDir(s.records)
	if err != nil {
		return nil, &StorageError{Op: "list", Path: s.records, Err: err}
	}
	stems := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		stems = append(stems, strings.TrimSuffix(name, ".json"))
	}
	return stems, nil
}

// urlID reads only the source URL of a stored record and returns the id it
// carries. Unreadable records yield "".
func (s *FileStore) urlID(listingID string) string {
	data, err := os.ReadFile(s.recordPath(listingID))
	if err != nil {
		return ""
	}
	var head struct {
		SourceURL string `json:"source_url"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return identity.ListingIDFromURL(head.SourceURL)
}

// Persist writes rec to <id>.json, replacing any earlier version in one
// rename. It logs and returns false on failure.
func (s *FileStore) Persist(rec *models.ListingRecord) bool {
	if err := s.write(rec); err != nil {
		s.logger.Errorf("failed to save listing %s: %v", rec.ListingID, err)
		return false
	}
	s.logger.Infof("saved listing %s", rec.ListingID)
	return true
}

func (s *FileStore) write(rec *models.ListingRecord) error {
	if rec.ListingID == "" || strings.ContainsAny(rec.ListingID, `/\`) || rec.ListingID == "." || rec.ListingID == ".." {
		return &StorageError{Op: "write", Path: s.records, Err: fmt.Errorf("invalid listing id %q", rec.ListingID)}
	}
	path := s.recordPath(rec.ListingID)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(s.records, ".tmp-"+rec.ListingID+"-*")
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (s *FileStore) Load(listingID string) (*models.ListingRecord, error) {
	path := s.recordPath(listingID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	var rec models.ListingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &StorageError{Op: "decode", Path: path, Err: err}
	}
	return &rec, nil
}

// All loads every stored record sorted by id. Unreadable files are logged
// and skipped.
func (s *FileStore) All() ([]models.ListingRecord, error) {
	sorted, err := s.stems()
	if err != nil {
		return nil, err
	}
	sort.Strings(sorted)

	records := make([]models.ListingRecord, 0, len(sorted))
	for _, id := range sorted {
		rec, err := s.Load(id)
		if err != nil {
			s.logger.Warnf("skipping unreadable record %s: %v", id, err)
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *FileStore) recordPath(listingID string) string {
	return filepath.Join(s.records, listingID+".json")
}

// IsNotExist reports whether err is a StorageError for a missing record.
func IsNotExist(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && errors.Is(se.Err, os.ErrNotExist)
}
