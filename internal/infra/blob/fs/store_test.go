package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"villagecore/internal/infra/blob/core"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Driver() != core.DriverFilesystem {
		t.Fatalf("driver = %s", s.Driver())
	}

	payload := []byte(`{"persons":[]}`)
	info, err := s.Put(ctx, "snapshots/x.json", bytes.NewReader(payload), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"families": "0"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ETag == "" {
		t.Fatalf("info = %+v", info)
	}

	got, body, err := s.Get(ctx, "snapshots/x.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if !bytes.Equal(data, payload) {
		t.Fatalf("content = %s", data)
	}
	if got.ETag != info.ETag || got.Metadata["families"] != "0" {
		t.Fatalf("got = %+v", got)
	}

	// Identical content has an identical etag; the key is still
	// create-only.
	if _, err := s.Put(ctx, "snapshots/x.json", bytes.NewReader(payload), core.PutOptions{}); err == nil {
		t.Fatal("overwrite succeeded")
	}
}

func TestHeadAndDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Put(ctx, "a/b", bytes.NewReader([]byte("data")), core.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	head, err := s.Head(ctx, "a/b")
	if err != nil || head.Size != 4 {
		t.Fatalf("Head = %+v, %v", head, err)
	}
	if _, err := s.Head(ctx, "a/missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Head of missing = %v, want ErrNotFound", err)
	}

	existed, err := s.Delete(ctx, "a/b")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v", existed, err)
	}
	if existed, _ := s.Delete(ctx, "a/b"); existed {
		t.Fatal("second delete reported existence")
	}
	if _, _, err := s.Get(ctx, "a/b"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestListWalksNestedKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{"snapshots/2026/a.json", "snapshots/2026/b.json", "misc/c"} {
		if _, err := s.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}
	infos, err := s.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("list = %v", infos)
	}
	if infos[0].Key != "snapshots/2026/a.json" {
		t.Fatalf("first key = %s", infos[0].Key)
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{"", "/abs", "../escape", "a/../../b"} {
		if _, err := s.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}
