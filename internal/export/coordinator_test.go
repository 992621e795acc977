// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/netSkope/ldif-export-tool/internal/dn"
	"github.com/netSkope/ldif-export-tool/internal/ldif"
	"github.com/netSkope/ldif-export-tool/internal/mapping"
	"github.com/netSkope/ldif-export-tool/internal/record"
	"github.com/netSkope/ldif-export-tool/internal/transform"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	opts := ldif.DefaultWriterOptions()
	opts.Now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	transforms, err := transform.NewSet(map[string]string{"mail": "email"})
	if err != nil {
		t.Fatal(err)
	}
	return Config{
		Stream:   "users",
		Template: dn.MustCompile("uid={uid},ou=people,dc=example,dc=com"),
		Mapping: mapping.MustNew(
			mapping.Rule{Field: "uid", Attributes: []string{"uid"}},
			mapping.Rule{Field: "name", Attributes: []string{"cn"}},
			mapping.Rule{Field: "email", Attributes: []string{"mail"}},
		),
		Transforms: transforms,
		Builder:    ldif.NewBuilder(ldif.Encoder{}, []string{"inetOrgPerson", "person"}),
		Writer:     opts,
	}
}

type recordingObserver struct {
	failed   []int64
	written  []string
	finished int
	lastErr  error
	last     Summary
}

func (r *recordingObserver) RecordFailed(_ string, index int64, _ error) {
	r.failed = append(r.failed, index)
}

func (r *recordingObserver) EntryWritten(_ string, _ int64, dn string) {
	r.written = append(r.written, dn)
}

func (r *recordingObserver) Finished(_ string, s Summary, err error) {
	r.finished++
	r.last = s
	r.lastErr = err
}

func TestRunPartialFailure(t *testing.T) {
	src := NewSliceSource(
		record.FromPairs("uid", "alice", "name", "Alice", "email", "ALICE@example.com"),
		record.FromPairs("name", "No Uid"),
		record.FromPairs("uid", "bob", "name", "Bob", "extra", "dropped"),
	)
	obs := &recordingObserver{}
	var out bytes.Buffer
	c, err := NewCoordinator(testConfig(t), &out, Observers{obs, LogObserver{Logger: zaptest.NewLogger(t)}}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	sum, err := c.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.EntriesWritten != 2 || sum.EntriesFailed != 1 {
		t.Errorf("summary = %+v, want 2 written, 1 failed", sum)
	}
	if sum.BytesWritten != int64(out.Len()) {
		t.Errorf("BytesWritten = %d, want %d", sum.BytesWritten, out.Len())
	}
	if n := strings.Count(out.String(), "\ndn: "); n != 2 {
		t.Errorf("dn blocks = %d, want 2\n%s", n, out.String())
	}
	if len(obs.failed) != 1 || obs.failed[0] != 1 {
		t.Errorf("failed indexes = %v, want [1]", obs.failed)
	}
	if obs.finished != 1 || obs.last != sum || obs.lastErr != nil {
		t.Errorf("Finished not reported correctly: %+v", obs)
	}

	want := "version: 1\n" +
		"# Generated on: 2024-01-02T03:04:05Z\n" +
		"# " + ldif.DefaultHeaderComment + "\n" +
		"dn: uid=alice,ou=people,dc=example,dc=com\n" +
		"uid: alice\n" +
		"cn: Alice\n" +
		"mail: alice@example.com\n" +
		"objectClass: inetOrgPerson\n" +
		"objectClass: person\n" +
		"\n" +
		"dn: uid=bob,ou=people,dc=example,dc=com\n" +
		"uid: bob\n" +
		"cn: Bob\n" +
		"objectClass: inetOrgPerson\n" +
		"objectClass: person\n" +
		"\n" +
		"# Total records written: 2\n"
	if out.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestRunDeterministic(t *testing.T) {
	recs := func() *SliceSource {
		return NewSliceSource(
			record.FromPairs("uid", "a,b", "name", []any{"A", "B"}),
			record.FromPairs("uid", " lead", "name", "line1\nline2"),
		)
	}
	var first, second bytes.Buffer
	for _, out := range []*bytes.Buffer{&first, &second} {
		c, err := NewCoordinator(testConfig(t), out, nil, zaptest.NewLogger(t))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.Run(context.Background(), recs()); err != nil {
			t.Fatal(err)
		}
	}
	if first.String() != second.String() {
		t.Errorf("runs differ:\n%s\n---\n%s", first.String(), second.String())
	}
	if !strings.Contains(first.String(), `dn: uid=a\,b,ou=people`) {
		t.Errorf("escaped DN missing:\n%s", first.String())
	}
	if !strings.Contains(first.String(), "cn:: bGluZTEKbGluZTI=") {
		t.Errorf("base64 value missing:\n%s", first.String())
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRunSinkFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Writer.FlushCount = 1
	c, err := NewCoordinator(cfg, failWriter{}, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	sum, err := c.Run(context.Background(), NewSliceSource(
		record.FromPairs("uid", "a"),
		record.FromPairs("uid", "b"),
	))
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if fe.Kind != WriterFailure || fe.RecordIndex != 0 {
		t.Errorf("FatalError = %+v", fe)
	}
	var sioe *ldif.SinkIoError
	if !errors.As(err, &sioe) {
		t.Errorf("expected SinkIoError in chain")
	}
	if sum != (Summary{}) {
		t.Errorf("summary on fatal error = %+v, want zero", sum)
	}
}

type errSource struct{ n int }

func (s *errSource) Next(context.Context) (*record.Record, error) {
	if s.n == 0 {
		s.n++
		return record.FromPairs("uid", "a"), nil
	}
	return nil, errors.New("unexpected end of JSON input")
}

func TestRunSourceFailureIsFatal(t *testing.T) {
	var out bytes.Buffer
	c, err := NewCoordinator(testConfig(t), &out, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Run(context.Background(), &errSource{})
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Kind != SourceFailure || fe.RecordIndex != 1 {
		t.Fatalf("expected SourceFailure at record 1, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("aborted run flushed output: %q", out.String())
	}
}

func TestRunCancelled(t *testing.T) {
	ch := make(chan *record.Record, 1)
	ch <- record.FromPairs("uid", "a")
	ctx, cancel := context.WithCancel(context.Background())

	var out bytes.Buffer
	obs := &recordingObserver{}
	c, err := NewCoordinator(testConfig(t), &out, obs, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var sum Summary
	go func() {
		defer close(done)
		sum, err = c.Run(ctx, NewChanSource(ch))
	}()

	// The channel is never closed, so Run blocks after the first record.
	for len(ch) > 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		t.Errorf("cancellation reported as fatal: %v", err)
	}
	if sum.EntriesWritten != 1 {
		t.Errorf("EntriesWritten = %d, want 1", sum.EntriesWritten)
	}
	if !strings.Contains(out.String(), "dn: uid=a,") {
		t.Errorf("buffered entry not flushed on cancel: %q", out.String())
	}
	if !errors.Is(obs.lastErr, ErrCancelled) {
		t.Errorf("observer saw %v", obs.lastErr)
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	c, err := NewCoordinator(testConfig(t), &out, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	sum, err := c.Run(ctx, NewSliceSource(record.FromPairs("uid", "a")))
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrCancelled wrapping context.Canceled, got %v", err)
	}
	if sum.EntriesWritten != 0 {
		t.Errorf("EntriesWritten = %d, want 0", sum.EntriesWritten)
	}
}

func TestRecordErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		record bool
		kind   string
	}{
		{"missing field", &dn.TemplateError{Kind: dn.MissingField, Field: "uid"}, true, "missing_field"},
		{"empty entry", &ldif.EmptyEntryError{DN: "cn=x"}, true, "empty_entry"},
		{"too large", &ldif.EncodingError{Err: ldif.ErrValueTooLarge}, true, "value_too_large"},
		{"sink", &ldif.SinkIoError{Op: "write", Err: errors.New("x")}, false, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecordError(tt.err); got != tt.record {
				t.Errorf("IsRecordError = %v, want %v", got, tt.record)
			}
			if got := RecordErrorKind(tt.err); got != tt.kind {
				t.Errorf("RecordErrorKind = %q, want %q", got, tt.kind)
			}
		})
	}
}
