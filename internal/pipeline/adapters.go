package pipeline

import (
	"context"

	"audiostreamd/internal/cache"
	"audiostreamd/internal/store"
)

// StoreSourceLookup adapts *store.Store to the SourceLookup interface.
type StoreSourceLookup struct {
	Store *store.Store
}

func (l StoreSourceLookup) Lookup(ctx context.Context, identifier string) (string, string, bool, error) {
	item, ok, err := l.Store.GetSourceItem(ctx, identifier)
	if err != nil {
		return "", "", false, err
	}
	return item.Title, item.Channel, ok, nil
}

// FileBackupSink writes the publish fallback payload to {backup_dir}/{identifier}.json
// using the same atomic write the rest of the module relies on (§4.5 step 4).
type FileBackupSink struct {
	cache *cache.JSONCache
}

// NewFileBackupSink opens (creating if necessary) dir as the backup sink's
// storage directory.
func NewFileBackupSink(dir string) (*FileBackupSink, error) {
	c, err := cache.NewJSONCache(dir)
	if err != nil {
		return nil, err
	}
	return &FileBackupSink{cache: c}, nil
}

func (f *FileBackupSink) Write(identifier string, payload BackupPayload) error {
	return f.cache.Write(identifier, payload)
}
