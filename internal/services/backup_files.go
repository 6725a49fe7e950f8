package services

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/winepair-be/internal/config"
	"github.com/isdelr/winepair-be/internal/models"
)

const (
	// timestampLayout is the UTC timestamp embedded in backup file names.
	timestampLayout    = "2006-01-02T15-04-05.000Z"
	timestampPrecision = time.Millisecond
	backupExt          = ".json"
	internalIDField    = "_id"
)

func backupFileName(collection string, t time.Time) string {
	return collection + "_" + t.UTC().Format(timestampLayout) + backupExt
}

// parseBackupFileName extracts the creation time from a backup file name of the given collection.
func parseBackupFileName(collection, name string) (time.Time, bool) {
	prefix := collection + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, backupExt) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), backupExt)
	t, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func (s *BackupService) collectionDir(collection string) string {
	return filepath.Join(s.opts.Dir, collection)
}

func (s *BackupService) resolveBackupPath(collection, file string) string {
	if filepath.Base(file) == file {
		return filepath.Join(s.collectionDir(collection), file)
	}
	return file
}

// encodeDocuments renders documents as an indented JSON array, keeping non-ASCII and HTML characters as-is.
func encodeDocuments(docs []models.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(docs); err != nil {
		return nil, errors.Annotate(err, "encoding documents")
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data to dir/name through a temporary file, so readers never see a partial backup.
func writeFileAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Annotatef(err, "creating %q", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", errors.Annotate(err, "creating temporary file")
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", errors.Annotate(err, "writing backup")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", errors.Annotate(err, "syncing backup")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errors.Annotate(err, "closing backup")
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", errors.Annotatef(err, "moving backup into place")
	}
	return path, nil
}

// readBackupFile loads and validates a backup file.
func readBackupFile(path string) ([]models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("backup file %q", filepath.Base(path))
		}
		return nil, errors.Annotatef(err, "reading backup file %q", path)
	}
	docs, err := decodeDocuments(data)
	if err != nil {
		return nil, errors.Annotatef(err, "backup file %q", filepath.Base(path))
	}
	return docs, nil
}

// decodeDocuments parses a backup file body. Anything but a JSON array of objects is NotValid.
func decodeDocuments(data []byte) ([]models.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.NewNotValid(err, "malformed JSON")
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, errors.NotValidf("trailing data after JSON array")
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, errors.NotValidf("backup content (expected a JSON array, got %s)", jsonKind(raw))
	}

	docs := make([]models.Document, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, errors.NotValidf("element %d (expected an object, got %s)", i, jsonKind(item))
		}
		delete(obj, internalIDField)
		docs = append(docs, models.Document(normalizeNumbers(obj).(map[string]any)))
	}
	return docs, nil
}

// stripInternalID returns copies of docs without the database-internal identifier.
func stripInternalID(docs []models.Document) []models.Document {
	out := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		clean := make(models.Document, len(doc))
		for key, value := range doc {
			if key != internalIDField {
				clean[key] = value
			}
		}
		out = append(out, clean)
	}
	return out
}

// normalizeNumbers turns json.Number values into int64 when integral and float64 otherwise.
func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeNumbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	default:
		return v
	}
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return "unknown"
	}
}

// countDocuments reads the number of elements of a backup file.
func countDocuments(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Trace(err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, errors.NewNotValid(err, "malformed backup file")
	}
	return len(items), nil
}

// backupCollections returns the collection directories present in the backup directory.
func (s *BackupService) backupCollections() ([]string, error) {
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "reading backup directory %q", s.opts.Dir)
	}

	var collections []string
	for _, entry := range entries {
		if entry.IsDir() && config.ValidCollectionName(entry.Name()) {
			collections = append(collections, entry.Name())
		}
	}
	return collections, nil
}

// listRecords returns the backups of one collection, newest first. Document counts are only
// read from the files when withCounts is set.
func (s *BackupService) listRecords(collection string, withCounts bool) ([]models.BackupRecord, error) {
	dir := s.collectionDir(collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.BackupRecord{}, nil
		}
		return nil, errors.Annotatef(err, "reading %q", dir)
	}

	records := make([]models.BackupRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		createdAt, ok := parseBackupFileName(collection, entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}

		record := models.BackupRecord{
			Collection: collection,
			FileName:   entry.Name(),
			Path:       filepath.Join(dir, entry.Name()),
			Size:       info.Size(),
			CreatedAt:  createdAt,
		}
		if withCounts {
			count, err := countDocuments(record.Path)
			if err != nil {
				log.Warn().Err(err).Str("file", record.Path).Msg("Could not count documents in backup")
			}
			record.DocumentCount = count
		}
		records = append(records, record)
	}
	sortNewestFirst(records)
	return records, nil
}

func sortNewestFirst(records []models.BackupRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Collection < records[j].Collection
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
