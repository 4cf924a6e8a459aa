package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
)

// JSONLStore appends records to a JSONL file.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONLStore creates the file if needed and returns the store.
func NewJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if cerr := f.Close(); cerr != nil {
		return nil, cerr
	}
	return &JSONLStore{path: path}, nil
}

// Append writes one record as a JSON line.
func (s *JSONLStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return json.NewEncoder(f).Encode(rec)
}

// Query scans the file and returns matching records. Malformed lines
// are skipped.
func (s *JSONLStore) Query(_ context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var res []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && r.Timestamp.After(q.End) {
			continue
		}
		if q.PostingID != "" && r.PostingID != q.PostingID {
			continue
		}
		if q.Kind != "" && r.Kind != q.Kind {
			continue
		}
		res = append(res, r)
	}
	return res, scanner.Err()
}

// Close is a no-op; the file is opened per operation.
func (s *JSONLStore) Close() error { return nil }
