// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package target

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/netSkope/ldif-export-tool/internal/config"
	"github.com/netSkope/ldif-export-tool/internal/export"
	"github.com/netSkope/ldif-export-tool/internal/record"
	"github.com/netSkope/ldif-export-tool/internal/sink"
	"github.com/netSkope/ldif-export-tool/internal/source"
)

const testConfig = `
dn_template: "uid={uid},ou=people,dc=example,dc=com"
attribute_mapping:
  uid: uid
  name: cn
include_timestamp: false
batch_flush_count: 1
streams:
  groups:
    dn_template: "cn={cn},ou=groups,dc=example,dc=com"
    attribute_mapping:
      cn: cn
    static_object_classes: [groupOfNames]
`

func testPlanner(t *testing.T) Planner {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}
	return NewPlanner(cfg)
}

type memSink struct {
	bytes.Buffer
	err     error
	closed  bool
	aborted bool
}

func (m *memSink) Write(p []byte) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.Buffer.Write(p)
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func (m *memSink) Abort() error {
	m.aborted = true
	return nil
}

type memFactory struct {
	mu    sync.Mutex
	sinks map[string]*memSink
	fail  map[string]error
}

func newMemFactory() *memFactory {
	return &memFactory{sinks: map[string]*memSink{}, fail: map[string]error{}}
}

func (f *memFactory) Create(_ context.Context, stream string) (sink.Sink, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &memSink{err: f.fail[stream]}
	f.sinks[stream] = s
	return s, "mem://" + stream, nil
}

func (f *memFactory) get(stream string) *memSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[stream]
}

type sliceReader struct {
	msgs []source.Message
	err  error
}

func (r *sliceReader) Next(ctx context.Context) (source.Message, error) {
	if err := ctx.Err(); err != nil {
		return source.Message{}, err
	}
	if len(r.msgs) == 0 {
		if r.err != nil {
			return source.Message{}, r.err
		}
		return source.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func msg(stream string, kv ...any) source.Message {
	return source.Message{Stream: stream, Record: record.FromPairs(kv...)}
}

func TestTargetRunStreams(t *testing.T) {
	f := newMemFactory()
	tgt, err := New(Options{Planner: testPlanner(t), Sinks: f, StreamBuffer: 1, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}

	r := &sliceReader{msgs: []source.Message{
		msg("users", "uid", "alice", "name", "Alice"),
		msg("groups", "cn", "admins"),
		msg("users", "name", "No UID"),
		msg("users", "uid", "bob", "name", "Bob"),
		msg("groups", "cn", "staff"),
	}}
	results, err := tgt.Run(context.Background(), r)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(results) != 2 || results[0].Stream != "users" || results[1].Stream != "groups" {
		t.Fatalf("results = %+v", results)
	}
	users, groups := results[0], results[1]
	if users.Summary.EntriesWritten != 2 || users.Summary.EntriesFailed != 1 || users.Err != nil {
		t.Errorf("users = %+v", users)
	}
	if groups.Summary.EntriesWritten != 2 || groups.Summary.EntriesFailed != 0 || groups.Err != nil {
		t.Errorf("groups = %+v", groups)
	}
	if users.Location != "mem://users" {
		t.Errorf("location = %q", users.Location)
	}

	usersOut := f.get("users")
	if !usersOut.closed || usersOut.aborted {
		t.Errorf("users sink closed=%v aborted=%v", usersOut.closed, usersOut.aborted)
	}
	if got := usersOut.String(); !strings.Contains(got, "dn: uid=alice,ou=people,dc=example,dc=com\n") ||
		!strings.Contains(got, "dn: uid=bob,ou=people,dc=example,dc=com\n") ||
		strings.Count(got, "\ndn: ") != 2 {
		t.Errorf("users output:\n%s", got)
	}
	if got := f.get("groups").String(); !strings.Contains(got, "dn: cn=staff,ou=groups,dc=example,dc=com\ncn: staff\nobjectClass: groupOfNames\n") {
		t.Errorf("groups output:\n%s", got)
	}

	total := Totals(results)
	if total.EntriesWritten != 4 || total.EntriesFailed != 1 {
		t.Errorf("Totals = %+v", total)
	}
	if total.BytesWritten != int64(usersOut.Len()+f.get("groups").Len()) {
		t.Errorf("BytesWritten = %d", total.BytesWritten)
	}
}

func TestTargetStreamFailureCancelsOthers(t *testing.T) {
	f := newMemFactory()
	f.fail["groups"] = errors.New("disk full")
	tgt, err := New(Options{Planner: testPlanner(t), Sinks: f, StreamBuffer: 1, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}

	msgs := []source.Message{msg("users", "uid", "u0"), msg("groups", "cn", "admins")}
	for i := 0; i < 100; i++ {
		msgs = append(msgs, msg("users", "uid", "u"))
	}
	results, err := tgt.Run(context.Background(), &sliceReader{msgs: msgs})

	var fe *export.FatalError
	if !errors.As(err, &fe) || fe.Stream != "groups" || fe.Kind != export.WriterFailure {
		t.Fatalf("Run() error = %v, want groups writer failure", err)
	}
	for _, res := range results {
		switch res.Stream {
		case "groups":
			if !errors.As(res.Err, &fe) {
				t.Errorf("groups result error = %v", res.Err)
			}
			if !f.get("groups").aborted {
				t.Error("failed sink was not aborted")
			}
		case "users":
			if res.Err != nil && !errors.Is(res.Err, export.ErrCancelled) {
				t.Errorf("users result error = %v, want nil or cancelled", res.Err)
			}
		}
	}
}

func TestTargetSourceFailure(t *testing.T) {
	f := newMemFactory()
	tgt, err := New(Options{Planner: testPlanner(t), Sinks: f, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	readErr := &source.LineError{Line: 2, Err: errors.New("bad json")}
	results, err := tgt.Run(context.Background(), &sliceReader{
		msgs: []source.Message{msg("users", "uid", "alice")},
		err:  readErr,
	})

	var fe *export.FatalError
	if !errors.As(err, &fe) || fe.Kind != export.SourceFailure || !errors.Is(err, readErr) {
		t.Fatalf("Run() error = %v, want source failure", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	if res := results[0]; res.Err != nil && !errors.Is(res.Err, export.ErrCancelled) {
		t.Errorf("users result error = %v", res.Err)
	}
}

func TestTargetCancelledContext(t *testing.T) {
	tgt, err := New(Options{Planner: testPlanner(t), Sinks: newMemFactory(), Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tgt.Run(ctx, &sliceReader{msgs: []source.Message{msg("users", "uid", "alice")}})
	if !errors.Is(err, export.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want cancelled", err)
	}
}

func TestTargetPlannerError(t *testing.T) {
	planErr := errors.New("no plan")
	tgt, err := New(Options{
		Planner: func(string) (export.Config, error) { return export.Config{}, planErr },
		Sinks:   newMemFactory(),
		Logger:  zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = tgt.Run(context.Background(), &sliceReader{msgs: []source.Message{msg("users", "uid", "alice")}})
	if !errors.Is(err, planErr) {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestTargetEmitsSingerState(t *testing.T) {
	input := `{"type":"RECORD","stream":"users","record":{"uid":"alice","name":"Alice"}}
{"type":"STATE","value":{"bookmarks":{"users":1}}}
`
	var state bytes.Buffer
	f := newMemFactory()
	tgt, err := New(Options{Planner: testPlanner(t), Sinks: f, StateOut: &state, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tgt.Run(context.Background(), source.NewSingerReader(strings.NewReader(input), zaptest.NewLogger(t))); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := state.String(); got != "{\"bookmarks\":{\"users\":1}}\n" {
		t.Errorf("state = %q", got)
	}
	if !strings.Contains(f.get("users").String(), "cn: Alice\n") {
		t.Errorf("users output:\n%s", f.get("users").String())
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{Sinks: newMemFactory()}); err == nil {
		t.Error("expected error without planner")
	}
	if _, err := New(Options{Planner: testPlanner(t)}); err == nil {
		t.Error("expected error without sink factory")
	}
}
