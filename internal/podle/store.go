package podle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rawblock/joinmarket-core/pkg/models"
)

// externalCommitmentRecord is the on-disk JSON shape of one
// ExternalCommitmentEntry.
type externalCommitmentRecord struct {
	Commitment string `json:"commitment"`
	P          string `json:"P"`
	P2         string `json:"P2"`
	S          string `json:"s"`
	E          string `json:"e"`
	Utxo       string `json:"utxo"`
	Used       bool   `json:"used"`
}

// Store is the persisted commit -> {P, P2, s, e, utxo, used} mapping.
// Reads happen at PoDLE-generation time, writes when a new commitment
// is recorded; writes are atomic (write-then-rename) and serialized
// across process instances with a file lock.
type Store struct {
	path string
	mu   sync.Mutex // serializes this process; the lock file serializes others
}

// NewStore opens (without yet reading) the external-commitment file at
// path. The file is created lazily on first RecordUsed.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the full commitment map from disk. A missing file is not
// an error — it just means no commitments have been recorded yet.
func (s *Store) Load() (map[string]models.ExternalCommitmentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (map[string]models.ExternalCommitmentEntry, error) {
	out := make(map[string]models.ExternalCommitmentEntry)
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("podle store: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return out, nil
	}

	var records []externalCommitmentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("podle store: decode %s: %w", s.path, err)
	}
	for _, r := range records {
		entry, err := recordToEntry(r)
		if err != nil {
			return nil, err
		}
		out[r.Commitment] = entry
	}
	return out, nil
}

// RecordUsed appends (or updates) a commitment as used, atomically
// rewriting the whole file with write-then-rename so a crash mid-write
// never corrupts it.
func (s *Store) RecordUsed(entry models.ExternalCommitmentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := acquireFileLock(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("podle store: acquire lock: %w", err)
	}
	defer unlock()

	current, err := s.loadLocked()
	if err != nil {
		return err
	}
	entry.Used = true
	current[entry.Commitment] = entry

	records := make([]externalCommitmentRecord, 0, len(current))
	for _, e := range current {
		records = append(records, entryToRecord(e))
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("podle store: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".podle-store-*.tmp")
	if err != nil {
		return fmt.Errorf("podle store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("podle store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("podle store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("podle store: rename into place: %w", err)
	}
	return nil
}

func recordToEntry(r externalCommitmentRecord) (models.ExternalCommitmentEntry, error) {
	utxo, err := models.ParseOutpoint(r.Utxo)
	if err != nil {
		return models.ExternalCommitmentEntry{}, fmt.Errorf("podle store: %w", err)
	}
	return models.ExternalCommitmentEntry{
		Commitment: r.Commitment,
		P:          mustHex(r.P),
		P2:         mustHex(r.P2),
		S:          mustHex(r.S),
		E:          mustHex(r.E),
		Utxo:       utxo,
		Used:       r.Used,
	}, nil
}

func entryToRecord(e models.ExternalCommitmentEntry) externalCommitmentRecord {
	return externalCommitmentRecord{
		Commitment: e.Commitment,
		P:          hexString(e.P),
		P2:         hexString(e.P2),
		S:          hexString(e.S),
		E:          hexString(e.E),
		Utxo:       e.Utxo.String(),
		Used:       e.Used,
	}
}
