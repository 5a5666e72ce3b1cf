package models

import "time"

// Manifest describes an archive partition's current on-disk state.
// Serialized as manifest.json next to the partition's data.jsonl.
type Manifest struct {
	Source      string    `json:"source"`
	RecordCount int       `json:"record_count"`
	FileSize    int64     `json:"file_size"`
	LastWrite   time.Time `json:"last_write"`
	Format      string    `json:"format"`
	Encoding    string    `json:"encoding"`
}
