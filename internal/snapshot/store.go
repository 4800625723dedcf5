// Package snapshot persists discovered devices so they can be restored
// before the first discovery of the next run.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
)

const (
	SchemaVersion = 1
	blobName      = "devices"
)

type document struct {
	SchemaVersion int               `json:"schema_version"`
	Devices       []json.RawMessage `json:"devices"`
}

// Store encodes device snapshots into a single blob.
type Store struct {
	blob BlobStore
	log  *logging.Logger
}

func NewStore(blob BlobStore, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{blob: blob, log: log.Named("snapshot")}
}

// Load returns every record that passes validation. Malformed records are
// logged and skipped; a missing blob yields no devices.
func (s *Store) Load(ctx context.Context) ([]model.DeviceSnapshot, error) {
	data, err := s.blob.Load(ctx, blobName)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot document: %w", err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema_version %d", doc.SchemaVersion)
	}

	out := make([]model.DeviceSnapshot, 0, len(doc.Devices))
	for i, raw := range doc.Devices {
		snap, err := model.DecodeDeviceRecord(raw)
		if err != nil {
			s.log.Warnw("skipping malformed snapshot record", "index", i, "err", err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, devices []model.DeviceSnapshot) error {
	doc := document{SchemaVersion: SchemaVersion, Devices: make([]json.RawMessage, 0, len(devices))}
	for _, d := range devices {
		raw, err := model.EncodeDeviceRecord(d)
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.HVAC.ID, err)
		}
		doc.Devices = append(doc.Devices, raw)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return s.blob.Save(ctx, blobName, data)
}
