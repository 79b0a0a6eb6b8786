// Package store persists the download registry. Snapshots are always written
// whole, so a reader sees either the previous registry or the new one.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tanq16/keeper/internal/utils"
)

const formatVersion = 1

// Record is the durable projection of one download.
type Record struct {
	ID             string        `json:"id"`
	URL            string        `json:"url"`
	Destination    string        `json:"destination"`
	TotalSize      *int64        `json:"total_size"`
	BytesCompleted int64         `json:"bytes_completed"`
	State          string        `json:"state"`
	LastError      *string       `json:"last_error"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	RangeSupported bool          `json:"range_supported"`
	ETag           string        `json:"etag,omitempty"`
	Chunks         []ChunkRecord `json:"chunks,omitempty"`
}

type ChunkRecord struct {
	Start      int64 `json:"start"`
	End        int64 `json:"end"`
	Downloaded int64 `json:"downloaded"`
}

type Store interface {
	// Save replaces the persisted registry with records.
	Save(ctx context.Context, records []Record) error
	// Load returns the persisted registry. A missing registry is empty, an
	// unreadable one yields an error wrapping utils.ErrCorruptState.
	Load(ctx context.Context) ([]Record, error)
}

type envelope struct {
	Version   int      `json:"version"`
	SavedAt   string   `json:"saved_at"`
	Downloads []Record `json:"downloads"`
}

func encode(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.MarshalIndent(envelope{
		Version:   formatVersion,
		SavedAt:   time.Now().UTC().Format(time.RFC3339),
		Downloads: records,
	}, "", "  ")
}

func decode(data []byte) ([]Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrCorruptState, err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", utils.ErrCorruptState, env.Version)
	}
	for i, r := range env.Downloads {
		if r.ID == "" || r.URL == "" || r.State == "" {
			return nil, fmt.Errorf("%w: record %d is incomplete", utils.ErrCorruptState, i)
		}
	}
	return env.Downloads, nil
}
