package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/oriys/infer/internal/domain"
)

func TestDiskStore_UploadOpenDelete(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}

	want := []byte("onnx model bytes")
	id, err := store.Upload(context.Background(), bytes.NewReader(want))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if id.IsZero() {
		t.Fatal("expected Upload to assign a non-zero blob id")
	}

	rc, err := store.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if err := store.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Open(context.Background(), id); err == nil {
		t.Fatal("expected Open to fail after Delete")
	}
}

func TestDiskStore_OpenMissing(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}

	missing, err := domain.ParseBlobID("00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("parse blob id: %v", err)
	}
	if _, err := store.Open(context.Background(), missing); err == nil {
		t.Fatal("expected Open to fail for a never-uploaded id")
	}
}

func TestRead_ReturnsFullContent(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}
	id, err := store.Upload(context.Background(), bytes.NewReader([]byte("data")))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	got, err := Read(context.Background(), store, id)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "data" {
		t.Fatalf("expected %q, got %q", "data", got)
	}
}
