package storage

import (
	"context"
	"errors"
	"testing"

	"drivefs/internal/common"
)

func TestBunDB_GetSchemaInfo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.bunDB.GetSchemaInfo(ctx, "version")
	if err != nil {
		t.Fatalf("GetSchemaInfo: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("version = %q, want %q", v, SchemaVersion)
	}

	v, err = s.bunDB.GetSchemaInfo(ctx, "missing")
	if err != nil || v != "" {
		t.Errorf("missing key = %q, %v", v, err)
	}
}

func TestBunDB_InsertAndGetEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := &EntryModel{Path: "/a.txt", Parent: "/", Mode: DefaultFileMode, Format: FormatText, Atime: 1, Mtime: 2, Ctime: 3}
	if err := s.bunDB.InsertEntry(ctx, entry); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}

	got, err := s.bunDB.GetEntry(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Mode != DefaultFileMode || got.Mtime != 2 || !got.IsFile() {
		t.Errorf("unexpected entry: %+v", got)
	}

	if _, err := s.bunDB.GetEntry(ctx, "/nope"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("GetEntry(/nope) = %v, want ErrNotFound", err)
	}
}

func TestBunDB_UpdateContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.bunDB.InsertEntry(ctx, &EntryModel{Path: "/f", Parent: "/", Mode: DefaultFileMode}); err != nil {
		t.Fatal(err)
	}
	if err := s.bunDB.UpdateContent(ctx, "/f", "aGk=", FormatBase64, 2, 99); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}

	got, err := s.bunDB.GetEntry(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "aGk=" || got.Format != FormatBase64 || got.Size != 2 || got.Mtime != 99 || got.Ctime != 99 {
		t.Errorf("unexpected entry after update: %+v", got)
	}
}

func TestBunDB_ChildrenAndMoveTree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, e := range []*EntryModel{
		{Path: "/d", Parent: "/", Mode: DefaultDirMode},
		{Path: "/d/x", Parent: "/d", Mode: DefaultFileMode},
		{Path: "/d/sub", Parent: "/d", Mode: DefaultDirMode},
		{Path: "/d/sub/y", Parent: "/d/sub", Mode: DefaultFileMode},
		{Path: "/dx", Parent: "/", Mode: DefaultFileMode},
	} {
		if err := s.bunDB.InsertEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	names, err := s.bunDB.ListChildNames(ctx, "/d")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "sub" || names[1] != "x" {
		t.Errorf("ListChildNames(/d) = %v", names)
	}

	n, err := s.bunDB.CountChildrenWith(s.bunDB.DB, ctx, "/")
	if err != nil || n != 2 {
		t.Errorf("CountChildren(/) = %d, %v", n, err)
	}

	if err := s.bunDB.MoveTreeWith(s.bunDB.DB, ctx, "/d", "/moved", "/", 5); err != nil {
		t.Fatalf("MoveTreeWith: %v", err)
	}

	for _, p := range []string{"/moved", "/moved/x", "/moved/sub", "/moved/sub/y", "/dx"} {
		if _, err := s.bunDB.GetEntry(ctx, p); err != nil {
			t.Errorf("GetEntry(%s) after move: %v", p, err)
		}
	}
	if _, err := s.bunDB.GetEntry(ctx, "/d/x"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("old path still present: %v", err)
	}

	y, err := s.bunDB.GetEntry(ctx, "/moved/sub/y")
	if err != nil {
		t.Fatal(err)
	}
	if y.Parent != "/moved/sub" {
		t.Errorf("parent of moved child = %q", y.Parent)
	}

	if err := s.bunDB.DeleteEntryWith(s.bunDB.DB, ctx, "/dx"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.bunDB.GetEntry(ctx, "/dx"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("deleted entry still present: %v", err)
	}
}
