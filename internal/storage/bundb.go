package storage

import (
	"context"
	"database/sql"
	"errors"
	"unicode/utf8"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"drivefs/internal/common"
	"drivefs/internal/util"
)

// BunDB wraps a Bun database instance for type-safe queries.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	return &BunDB{DB: bunDB}
}

// GetSchemaInfo retrieves a schema_info value by key.
func (db *BunDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// --- Entry Operations ---

// GetEntry returns the entry at path or common.ErrNotFound.
func (db *BunDB) GetEntry(ctx context.Context, path string) (*EntryModel, error) {
	return db.GetEntryWith(db.DB, ctx, path)
}

// GetEntryWith is GetEntry against a transaction or the database.
func (db *BunDB) GetEntryWith(idb bun.IDB, ctx context.Context, path string) (*EntryModel, error) {
	var entry EntryModel
	err := idb.NewSelect().
		Model(&entry).
		Where("path = ?", path).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListChildNames returns the names of the direct children of path, sorted.
func (db *BunDB) ListChildNames(ctx context.Context, path string) ([]string, error) {
	var entries []EntryModel
	err := db.NewSelect().
		Model(&entries).
		Column("path").
		Where("parent = ?", path).
		Order("path ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for i := range entries {
		names = append(names, entries[i].Name())
	}
	return names, nil
}

// CountChildrenWith returns how many entries have path as parent.
func (db *BunDB) CountChildrenWith(idb bun.IDB, ctx context.Context, path string) (int, error) {
	return idb.NewSelect().
		Model((*EntryModel)(nil)).
		Where("parent = ?", path).
		Count(ctx)
}

// InsertEntry inserts a new entry, retrying on transient lock errors.
func (db *BunDB) InsertEntry(ctx context.Context, entry *EntryModel) error {
	return util.Retry(ctx, func() error {
		_, err := db.NewInsert().Model(entry).Exec(ctx)
		return err
	}, util.DatabaseRetryOptions(ctx)...)
}

// UpdateContent replaces the content of a file entry.
func (db *BunDB) UpdateContent(ctx context.Context, path, content, format string, size, now int64) error {
	return util.Retry(ctx, func() error {
		_, err := db.NewUpdate().
			Model((*EntryModel)(nil)).
			Set("content = ?", content).
			Set("format = ?", format).
			Set("size = ?", size).
			Set("mtime = ?", now).
			Set("ctime = ?", now).
			Where("path = ?", path).
			Exec(ctx)
		return err
	}, util.DatabaseRetryOptions(ctx)...)
}

// DeleteEntryWith removes a single entry.
func (db *BunDB) DeleteEntryWith(idb bun.IDB, ctx context.Context, path string) error {
	_, err := idb.NewDelete().
		Model((*EntryModel)(nil)).
		Where("path = ?", path).
		Exec(ctx)
	return err
}

// MoveTreeWith renames oldPath to newPath together with every descendant.
func (db *BunDB) MoveTreeWith(idb bun.IDB, ctx context.Context, oldPath, newPath, newParent string, now int64) error {
	_, err := idb.NewUpdate().
		Model((*EntryModel)(nil)).
		Set("path = ?", newPath).
		Set("parent = ?", newParent).
		Set("ctime = ?", now).
		Where("path = ?", oldPath).
		Exec(ctx)
	if err != nil {
		return err
	}

	// substr counts characters, not bytes
	prefix := oldPath + "/"
	tail := utf8.RuneCountInString(oldPath) + 1
	_, err = idb.NewUpdate().
		Model((*EntryModel)(nil)).
		Set("path = ? || substr(path, ?)", newPath, tail).
		Set("parent = ? || substr(parent, ?)", newPath, tail).
		Where("substr(path, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix).
		Exec(ctx)
	return err
}
