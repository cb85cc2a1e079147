package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"villagecore/internal/infra/blob/core"
)

// archivePrefix groups snapshot archives under one key namespace.
const archivePrefix = "snapshots/"

// Archiver persists export documents to a blob store under uuid keys.
type Archiver struct {
	store core.Store
}

// NewArchiver constructs an archiver over the given blob store.
func NewArchiver(store core.Store) *Archiver {
	return &Archiver{store: store}
}

// Archive writes the export as a JSON archive and returns its key.
func (a *Archiver) Archive(ctx context.Context, export WorldExport) (string, core.Info, error) {
	payload, err := json.Marshal(export)
	if err != nil {
		return "", core.Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	key := fmt.Sprintf("%s%s.json", archivePrefix, uuid.NewString())
	info, err := a.store.Put(ctx, key, bytes.NewReader(payload), core.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"snapshot_date": export.Date.String(),
			"persons":       fmt.Sprintf("%d", len(export.Persons)),
			"families":      fmt.Sprintf("%d", len(export.Families)),
		},
	})
	if err != nil {
		return "", core.Info{}, fmt.Errorf("store snapshot archive: %w", err)
	}
	return key, info, nil
}

// Load reads one archived export back.
func (a *Archiver) Load(ctx context.Context, key string) (WorldExport, error) {
	_, body, err := a.store.Get(ctx, key)
	if err != nil {
		return WorldExport{}, fmt.Errorf("read snapshot archive %s: %w", key, err)
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return WorldExport{}, err
	}
	var export WorldExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return WorldExport{}, fmt.Errorf("decode snapshot archive %s: %w", key, err)
	}
	return export, nil
}

// List returns the stored snapshot archives.
func (a *Archiver) List(ctx context.Context) ([]core.Info, error) {
	return a.store.List(ctx, archivePrefix)
}
