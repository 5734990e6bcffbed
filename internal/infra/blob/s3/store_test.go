package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"thingsync/internal/archive/core"
)

func TestMockRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	if s.Driver() != core.DriverS3 || s.Bucket() != "mock-bucket" {
		t.Fatalf("unexpected store identity %s %s", s.Driver(), s.Bucket())
	}
	written, err := s.Write(ctx, "seed/default.json", strings.NewReader(`{"v":1}`), core.WriteOptions{ContentType: "application/json", Metadata: map[string]string{"revision": "1"}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if written.Size != 7 || written.Metadata["revision"] != "1" || written.Digest == "" {
		t.Fatalf("unexpected entry %+v", written)
	}
	if _, ok := written.Metadata[digestKey]; ok {
		t.Fatalf("digest leaked into metadata")
	}
	if _, err := s.Write(ctx, "seed/default.json", strings.NewReader(`{"v":22}`), core.WriteOptions{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	entry, rc, err := s.Read(ctx, "seed/default.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"v":22}` || entry.Digest == written.Digest {
		t.Fatalf("overwrite not visible: %s %+v", body, entry)
	}
}

func TestMockNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	if _, err := s.Stat(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("stat: expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Read(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("read: expected ErrNotFound, got %v", err)
	}
	if ok, err := s.Delete(ctx, "missing"); ok || err != nil {
		t.Fatalf("delete missing: %v %v", ok, err)
	}
}

func TestMockListPaginatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("backups/%03d.json", i)
		if _, err := s.Write(ctx, key, strings.NewReader(key), core.WriteOptions{}); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}
	_, _ = s.Write(ctx, "seed/default.json", strings.NewReader("{}"), core.WriteOptions{})
	list, err := s.List(ctx, "backups/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 || list[0].Key != "backups/000.json" || list[4].Key != "backups/004.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, err := s.Delete(ctx, "backups/000.json"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	list, _ = s.List(ctx, "")
	if len(list) != 5 {
		t.Fatalf("expected 5 objects after delete, got %d", len(list))
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	framed := "5;chunk-signature=abc\r\nhello\r\n6\r\n world\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"
	got, err := decodeAWSChunked([]byte(framed))
	if err != nil || string(got) != "hello world" {
		t.Fatalf("decode: %q %v", got, err)
	}
	if _, err := decodeAWSChunked([]byte("zz\r\n")); err == nil {
		t.Fatalf("expected bad size error")
	}
	if !isAWSChunked(http.Header{"Content-Encoding": {"aws-chunked"}}) {
		t.Fatalf("expected aws-chunked detection")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	s, err := New(context.Background(), Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil || s.Bucket() != "b" {
		t.Fatalf("new: %v", err)
	}
}
