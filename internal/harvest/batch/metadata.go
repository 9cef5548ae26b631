package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hemnet-harvester/internal/harvest/faults"
	"hemnet-harvester/lib/fsutil"
)

// Metadata is the resume source of truth for detail retrieval. It is
// rewritten atomically after every batch.
type Metadata struct {
	CreatedAt       time.Time    `json:"created_at"`
	TotalProcessed  int          `json:"total_processed"`
	TotalSuccessful int          `json:"total_successful"`
	TotalFailed     int          `json:"total_failed"`
	// LastBatchID is -1 until the first batch file is written.
	LastBatchID int          `json:"last_batch_id"`
	Batches     []BatchStats `json:"batches"`
}

type BatchStats struct {
	BatchID   int       `json:"batch_id"`
	Count     int       `json:"count"`
	SizeBytes int64     `json:"size_bytes"`
	File      string    `json:"file"`
	FlushedAt time.Time `json:"flushed_at"`
}

func metadataPath(dir string) string {
	return filepath.Join(dir, "metadata.json")
}

// Load reads the metadata for a batch directory without constructing a
// manager. A directory with no metadata yet loads as the zero starting
// state.
func Load(dir string) (Metadata, error) {
	return loadMetadata(metadataPath(dir))
}

func loadMetadata(path string) (Metadata, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Metadata{CreatedAt: time.Now(), LastBatchID: -1}, nil
	}
	if err != nil {
		return Metadata{}, err
	}

	var meta Metadata
	err = json.Unmarshal(contents, &meta)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s: %s", faults.ErrCorruptState, path, err)
	}
	return meta, nil
}

func (m Metadata) save(path string) error {
	contents, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, contents, 0o644)
}
