package sortpipeline

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"

	"github.com/chbe-helix/fast-samtools-sort/utils/bgzf"
)

func writeBucketFile(t *testing.T, path string, lines []string) uint64 {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("os.Create: %v", err)
	}
	defer f.Close()
	h := xxhash.New()
	for i, line := range lines {
		record := strconv.Itoa(i) + "\t" + line + "\n"
		if _, err := f.WriteString(record); err != nil {
			t.Fatalf("WriteString: %v", err)
		}
		_, _ = h.Write([]byte(record))
	}
	return h.Sum64()
}

func TestLoadBucketVerifiesChecksum(t *testing.T) {
	rt := buildTestRefTable(t)
	path := filepath.Join(t.TempDir(), "bucket.tmp.0")
	lines := []string{samLine("r1", "chr1", 1), samLine("r2", "chr1", 5)}
	sum := writeBucketFile(t, path, lines)

	arena, err := loadBucket(path, sum, 4096, rt)
	if err != nil {
		t.Fatalf("loadBucket: %v", err)
	}
	defer arena.Close()
	if arena.Len() != 2 {
		t.Errorf("Len() = %d, want 2", arena.Len())
	}
}

func TestLoadBucketChecksumMismatch(t *testing.T) {
	rt := buildTestRefTable(t)
	path := filepath.Join(t.TempDir(), "bucket.tmp.0")
	lines := []string{samLine("r1", "chr1", 1)}
	writeBucketFile(t, path, lines)

	_, err := loadBucket(path, 0xdeadbeef, 4096, rt)
	if err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
	var ioErr *IoFailureError
	if got, ok := err.(*IoFailureError); !ok {
		t.Errorf("expected *IoFailureError wrapping the checksum mismatch, got %T", err)
	} else {
		ioErr = got
	}
	if ioErr != nil && !strings.Contains(ioErr.Error(), "checksum mismatch") {
		t.Errorf("error does not mention checksum mismatch: %v", ioErr)
	}
}

func TestRunWorkerPoolSortsAndWritesShards(t *testing.T) {
	rt := buildTestRefTable(t)
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.sam")
	headerText := "@HD\tVN:1.6\n@SQ\tSN:chr1\tLN:10000\n"

	buckets := []Bucket{{ID: 0, Lo: 0, Hi: 2 * IntervalSize, Weight: 4096}}
	bucketPath := tempBucketName(inputPath, 0)
	lines := []string{samLine("late", "chr1", 5), samLine("early", "chr1", 1)}
	sum := writeBucketFile(t, bucketPath, lines)
	routing := &RoutingResult{Path: []string{bucketPath}, Checksum: []uint64{sum}}

	enc := NewEncoder(EncoderNative)
	shardPaths, err := RunWorkerPool(context.Background(), 2, buckets, routing, rt, inputPath, headerText, enc, 6, false)
	if err != nil {
		t.Fatalf("RunWorkerPool: %v", err)
	}
	if len(shardPaths) != 1 {
		t.Fatalf("expected 1 shard path, got %d", len(shardPaths))
	}

	f, err := os.Open(shardPaths[0])
	if err != nil {
		t.Fatalf("opening shard: %v", err)
	}
	defer f.Close()
	r, err := bgzf.NewReader(bufio.NewReader(f))
	if err != nil {
		t.Fatalf("bgzf.NewReader: %v", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading shard body: %v", err)
	}
	text := string(body)
	if !strings.HasPrefix(text, headerText) {
		t.Fatalf("shard does not start with the header:\n%s", text)
	}
	got := strings.TrimRight(strings.TrimPrefix(text, headerText), "\n")
	gotLines := strings.Split(got, "\n")
	if len(gotLines) != 2 {
		t.Fatalf("shard has %d record lines, want 2: %q", len(gotLines), got)
	}
	if !strings.HasPrefix(gotLines[0], "early") || !strings.HasPrefix(gotLines[1], "late") {
		t.Errorf("shard is not coordinate-sorted: %v", gotLines)
	}

	if _, err := os.Stat(bucketPath); !os.IsNotExist(err) {
		t.Errorf("expected the routed temp bucket file to be removed after the worker consumed it")
	}
}

func TestRunWorkerPoolStreamsUnalignedBucketWithoutSorting(t *testing.T) {
	rt := buildTestRefTable(t)
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.sam")
	headerText := "@HD\tVN:1.6\n@SQ\tSN:chr1\tLN:10000\n"

	buckets := []Bucket{{ID: 0, Lo: unalignedKey, Hi: unalignedKey + 1, Weight: 4096, Unaligned: true}}
	bucketPath := tempBucketName(inputPath, 0)
	// Deliberately out of coordinate order: an unaligned shard must preserve
	// arrival order, not get coordinate-sorted.
	lines := []string{samLine("second", "*", 0), samLine("first", "*", 0)}
	sum := writeBucketFile(t, bucketPath, lines)
	routing := &RoutingResult{Path: []string{bucketPath}, Checksum: []uint64{sum}}

	enc := NewEncoder(EncoderNative)
	shardPaths, err := RunWorkerPool(context.Background(), 1, buckets, routing, rt, inputPath, headerText, enc, 6, false)
	if err != nil {
		t.Fatalf("RunWorkerPool: %v", err)
	}

	f, err := os.Open(shardPaths[0])
	if err != nil {
		t.Fatalf("opening shard: %v", err)
	}
	defer f.Close()
	r, err := bgzf.NewReader(bufio.NewReader(f))
	if err != nil {
		t.Fatalf("bgzf.NewReader: %v", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading shard body: %v", err)
	}
	text := strings.TrimPrefix(string(body), headerText)
	gotLines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(gotLines) != 2 {
		t.Fatalf("shard has %d record lines, want 2: %q", len(gotLines), text)
	}
	if !strings.HasPrefix(gotLines[0], "second") || !strings.HasPrefix(gotLines[1], "first") {
		t.Errorf("unaligned shard was reordered, want arrival order preserved: %v", gotLines)
	}
}
