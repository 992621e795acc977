// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package sink

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

var testNow = func() time.Time { return time.Date(2024, 3, 9, 8, 7, 6, 0, time.UTC) }

func TestSafeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"users", "users"},
		{"public-users_v2", "public-users_v2"},
		{"public.users", "publicusers"},
		{"../../etc/passwd", "etcpasswd"},
		{"!!!", "stream"},
		{"", "stream"},
	}
	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderName(t *testing.T) {
	if got := RenderName("", "users", testNow()); got != "users_20240309T080706Z.ldif" {
		t.Errorf("default pattern = %q", got)
	}
	if got := RenderName("export/{stream_name}.ldif", "a.b", testNow()); got != "export/ab.ldif" {
		t.Errorf("custom pattern = %q", got)
	}
}

func TestFileFactory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	f := &File{Dir: dir, Pattern: "{stream_name}.ldif", Now: testNow, Logger: zaptest.NewLogger(t)}

	s, loc, err := f.Create(context.Background(), "users")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if loc != filepath.Join(dir, "users.ldif") {
		t.Errorf("location = %q", loc)
	}
	if _, err := s.Write([]byte("version: 1\n")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	data, err := os.ReadFile(loc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "version: 1\n" {
		t.Errorf("file content = %q", data)
	}
}

func TestFileCollidingStreamNames(t *testing.T) {
	dir := t.TempDir()
	f := &File{Dir: dir, Now: testNow}

	streams := []string{"public.users", "publicusers", "public-users!"}
	locs := make(map[string]bool)
	for i, stream := range streams {
		s, loc, err := f.Create(context.Background(), stream)
		if err != nil {
			t.Fatalf("Create(%q): %v", stream, err)
		}
		if locs[loc] {
			t.Fatalf("Create(%q) reused path %q", stream, loc)
		}
		locs[loc] = true
		if _, err := s.Write([]byte(stream)); err != nil {
			t.Fatal(err)
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(loc)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != stream {
			t.Errorf("stream %d content = %q, want %q", i, data, stream)
		}
	}

	second := filepath.Join(dir, "publicusers_"+testNow().UTC().Format(TimestampLayout)+"-2.ldif")
	if !locs[second] {
		t.Errorf("paths = %v, want %s among them", locs, second)
	}
}

func TestFileAbortRemoves(t *testing.T) {
	f := &File{Dir: t.TempDir(), Now: testNow}
	s, loc, err := f.Create(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte("partial")); err != nil {
		t.Fatal(err)
	}
	if err := s.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(loc); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial file still present: %v", err)
	}
}

func TestStdoutFactory(t *testing.T) {
	var buf bytes.Buffer
	out := NewStdout(&buf, t.TempDir())
	ctx := context.Background()

	first, loc, err := out.Create(ctx, "users")
	if err != nil {
		t.Fatal(err)
	}
	if loc != "stdout" {
		t.Errorf("location = %q", loc)
	}
	second, _, err := out.Create(ctx, "groups")
	if err != nil {
		t.Fatal(err)
	}
	third, _, err := out.Create(ctx, "devices")
	if err != nil {
		t.Fatal(err)
	}

	mustWrite := func(s Sink, p string) {
		t.Helper()
		if _, err := s.Write([]byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite(first, "u1 ")
	mustWrite(second, "g1 ")
	mustWrite(third, "d1 ")
	mustWrite(first, "u2 ")
	mustWrite(second, "g2 ")

	if got := buf.String(); got != "u1 u2 " {
		t.Fatalf("before close stdout = %q", got)
	}
	if err := third.Abort(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- second.Close() }()
	select {
	case err := <-done:
		t.Fatalf("spooled stream closed while the first stream held stdout: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "u1 u2 g1 g2 " {
		t.Errorf("stdout = %q", got)
	}
	if err := first.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}

	left, _ := filepath.Glob(filepath.Join(out.TempDir, "*"))
	if len(left) != 0 {
		t.Errorf("spool files left behind: %v", left)
	}

	if _, _, err := NewStdout(nil, "").Create(ctx, "x"); err == nil {
		t.Error("expected error for nil writer")
	}
}

type fakeUploader struct {
	uploads map[string][]byte
	fail    error
	streams []*memSink
}

func (f *fakeUploader) Key(name string) string { return "prefix/" + name }
func (f *fakeUploader) Bucket() string         { return "bucket" }

func (f *fakeUploader) UploadFileWithRetry(_ context.Context, path, key string) error {
	if f.fail != nil {
		return f.fail
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeUploader) NewMultipartUploadStream(_ context.Context, key string) Sink {
	s := &memSink{key: key}
	f.streams = append(f.streams, s)
	return s
}

type memSink struct {
	bytes.Buffer
	key     string
	closed  bool
	aborted bool
}

func (m *memSink) Close() error { m.closed = true; return nil }
func (m *memSink) Abort() error { m.aborted = true; return nil }

func TestS3StreamFactory(t *testing.T) {
	up := &fakeUploader{}
	s, loc, err := S3Stream{Uploader: up, Now: testNow}.Create(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}
	if loc != "s3://bucket/prefix/users_20240309T080706Z.ldif" {
		t.Errorf("location = %q", loc)
	}
	if _, err := s.Write([]byte("dn: cn=x\n")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if len(up.streams) != 1 || !up.streams[0].closed || up.streams[0].String() != "dn: cn=x\n" {
		t.Errorf("stream not written and closed: %+v", up.streams)
	}
}

func TestS3UploadFactory(t *testing.T) {
	spool := t.TempDir()
	up := &fakeUploader{}
	f := S3Upload{Uploader: up, Pattern: "{stream_name}.ldif", TempDir: spool, Now: testNow, Logger: zaptest.NewLogger(t)}

	s, loc, err := f.Create(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}
	if loc != "s3://bucket/prefix/users.ldif" {
		t.Errorf("location = %q", loc)
	}
	if _, err := s.Write([]byte("version: 1\n")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := string(up.uploads["prefix/users.ldif"]); got != "version: 1\n" {
		t.Errorf("uploaded = %q", got)
	}
	entries, _ := os.ReadDir(spool)
	if len(entries) != 0 {
		t.Errorf("spool file left behind: %v", entries)
	}
}

func TestS3UploadFailure(t *testing.T) {
	spool := t.TempDir()
	up := &fakeUploader{fail: errors.New("access denied")}
	s, _, err := S3Upload{Uploader: up, TempDir: spool}.Create(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err == nil {
		t.Fatal("expected upload error")
	}
	entries, _ := os.ReadDir(spool)
	if len(entries) != 0 {
		t.Errorf("spool file left behind: %v", entries)
	}
}
