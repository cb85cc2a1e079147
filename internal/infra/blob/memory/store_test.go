package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"villagecore/internal/infra/blob/core"
)

func TestPutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("driver = %s", s.Driver())
	}

	payload := []byte(`{"version":1}`)
	info, err := s.Put(ctx, "snapshots/a.json", bytes.NewReader(payload), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"snapshot_date": "0050-03-02"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ContentType != "application/json" {
		t.Fatalf("info = %+v", info)
	}

	// Create-only.
	if _, err := s.Put(ctx, "snapshots/a.json", bytes.NewReader(payload), core.PutOptions{}); err == nil {
		t.Fatal("overwrite succeeded")
	}

	got, body, err := s.Get(ctx, "snapshots/a.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if !bytes.Equal(data, payload) {
		t.Fatalf("content = %s", data)
	}
	if got.Metadata["snapshot_date"] != "0050-03-02" {
		t.Fatalf("metadata = %v", got.Metadata)
	}

	head, err := s.Head(ctx, "snapshots/a.json")
	if err != nil || head.Size != info.Size {
		t.Fatalf("Head = %+v, %v", head, err)
	}

	existed, err := s.Delete(ctx, "snapshots/a.json")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v", existed, err)
	}
	if existed, _ := s.Delete(ctx, "snapshots/a.json"); existed {
		t.Fatal("second delete reported existence")
	}
	if _, _, err := s.Get(ctx, "snapshots/a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestListFiltersPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, key := range []string{"snapshots/b.json", "snapshots/a.json", "other/c.json"} {
		if _, err := s.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}
	infos, err := s.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "snapshots/a.json" || infos[1].Key != "snapshots/b.json" {
		t.Fatalf("list = %v", infos)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 3 {
		t.Fatalf("unfiltered list = %v", all)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Put(ctx, "k", bytes.NewReader([]byte("abc")), core.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, body, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	data[0] = 'z'

	_, again, _ := s.Get(ctx, "k")
	fresh, _ := io.ReadAll(again)
	again.Close()
	if string(fresh) != "abc" {
		t.Fatalf("stored content mutated to %s", fresh)
	}
}
