package replay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	wserrors "github.com/vango-dev/worldsync/internal/errors"
	"github.com/vango-dev/worldsync/pkg/replication"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type memStore struct {
	mu   sync.Mutex
	segs map[string][]byte
	err  error
}

func (m *memStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.segs == nil {
		m.segs = make(map[string][]byte)
	}
	m.segs[key] = bytes.Clone(data)
	return nil
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.segs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func world(tick uint32) replication.WorldSnapshot {
	return replication.WorldSnapshot{
		Tick: tick,
		Entities: []replication.EntitySnapshot{
			{ID: 1, Components: replication.Components{1: {byte(tick)}, 7: []byte("name")}},
			{ID: 9, Components: replication.Components{1: {0xff, byte(tick)}}},
		},
	}
}

func TestRecorderSegments(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store, WithSegmentSnapshots(2), WithRecordingID("rec"), WithLogger(quiet))
	for tick := uint32(1); tick <= 5; tick++ {
		rec.Record(world(tick))
	}
	if err := rec.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := []string{"rec/000000.jsonl", "rec/000001.jsonl", "rec/000002.jsonl"}
	if got := store.keys(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("segments = %v, want %v", got, want)
	}

	var all []replication.WorldSnapshot
	for _, k := range want {
		snaps, err := ReadSegment(bytes.NewReader(store.segs[k]))
		if err != nil {
			t.Fatalf("ReadSegment(%s) error = %v", k, err)
		}
		all = append(all, snaps...)
	}
	if len(all) != 5 {
		t.Fatalf("decoded %d snapshots, want 5", len(all))
	}
	for i, w := range all {
		orig := world(uint32(i + 1))
		if w.Tick != orig.Tick || !replication.NewState(w).Equal(replication.NewState(orig)) {
			t.Errorf("snapshot %d = %+v, want %+v", i, w, orig)
		}
	}

	st := rec.Stats()
	if st.Recorded != 5 || st.Segments != 3 || st.Dropped != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestRecordCopiesInput(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store, WithRecordingID("rec"), WithLogger(quiet))
	w := world(3)
	rec.Record(w)
	w.Entities[0].Components[1] = []byte{42}
	if err := rec.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	snaps, err := ReadSegment(bytes.NewReader(store.segs["rec/000000.jsonl"]))
	if err != nil || len(snaps) != 1 {
		t.Fatalf("ReadSegment() = %v, %v", snaps, err)
	}
	if got := snaps[0].Entities[0].Components[1]; !bytes.Equal(got, []byte{3}) {
		t.Errorf("recorded component = %v, want [3]", got)
	}
}

func TestRecordAfterClose(t *testing.T) {
	rec := NewRecorder(&memStore{}, WithLogger(quiet))
	if err := rec.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec.Record(world(1))
	if st := rec.Stats(); st.Dropped != 1 || st.Recorded != 0 {
		t.Errorf("Stats() = %+v", st)
	}
	if err := rec.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRecorderStoreError(t *testing.T) {
	boom := errors.New("disk full")
	rec := NewRecorder(&memStore{err: boom}, WithSegmentSnapshots(1), WithLogger(quiet))
	rec.Record(world(1))
	if err := rec.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Close() error = %v, want %v", err, boom)
	}
	if st := rec.Stats(); st.Failed != 1 || st.Segments != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestDiskStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), "abc/000000.jsonl", []byte("{}\n")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "abc", "000000.jsonl"))
	if err != nil || string(data) != "{}\n" {
		t.Errorf("segment = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "abc", "000000.jsonl.tmp")); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	client := &fakeS3{}
	store := NewS3Store(client, "bucket", "worldsync/")
	if err := store.Save(context.Background(), "rec/000000.jsonl", []byte("data")); err != nil {
		t.Fatal(err)
	}
	if aws.ToString(client.input.Bucket) != "bucket" || aws.ToString(client.input.Key) != "worldsync/rec/000000.jsonl" {
		t.Errorf("PutObject(%s, %s)", aws.ToString(client.input.Bucket), aws.ToString(client.input.Key))
	}
	if string(client.body) != "data" {
		t.Errorf("body = %q", client.body)
	}

	client.err = errors.New("access denied")
	err := store.Save(context.Background(), "rec/000001.jsonl", []byte("data"))
	var se *wserrors.Error
	if !errors.As(err, &se) || se.Code != wserrors.CodeReplayUpload {
		t.Errorf("Save() error = %v, want %s", err, wserrors.CodeReplayUpload)
	}
}

func TestReadSegmentMalformed(t *testing.T) {
	snaps, err := ReadSegment(strings.NewReader(`{"tick":1,"entities":[]}` + "\n{not json"))
	if err == nil || len(snaps) != 1 {
		t.Errorf("ReadSegment() = %d snapshots, %v", len(snaps), err)
	}
}
