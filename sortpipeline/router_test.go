package sortpipeline

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
)

func TestRouteRecordsSplitsIntoBuckets(t *testing.T) {
	rt := buildTestRefTable(t)
	inputPath := filepath.Join(t.TempDir(), "in.sam")

	buckets := []Bucket{
		{ID: 0, Lo: 0, Hi: IntervalSize},
		{ID: 1, Lo: IntervalSize, Hi: 2 * IntervalSize},
	}
	lines := []string{
		samLine("r1", "chr1", 1),
		samLine("r2", "chr1", 2),
		samLine("r3", "chr1", IntervalSize+1),
	}
	text := strings.Join(lines, "\n") + "\n"

	result, err := RouteRecords(bufio.NewReader(strings.NewReader(text)), rt, buckets, inputPath)
	if err != nil {
		t.Fatalf("RouteRecords: %v", err)
	}
	defer func() {
		for _, p := range result.Path {
			os.Remove(p)
		}
	}()

	if len(result.Path) != 2 || len(result.Checksum) != 2 {
		t.Fatalf("unexpected RoutingResult shape: %+v", result)
	}
	if result.Path[0] != tempBucketName(inputPath, 0) {
		t.Errorf("Path[0] = %q, want %q", result.Path[0], tempBucketName(inputPath, 0))
	}

	bucket0, err := os.ReadFile(result.Path[0])
	if err != nil {
		t.Fatalf("reading bucket 0: %v", err)
	}
	gotLines := strings.Split(strings.TrimRight(string(bucket0), "\n"), "\n")
	if len(gotLines) != 2 {
		t.Fatalf("bucket 0 has %d lines, want 2: %q", len(gotLines), string(bucket0))
	}
	if !strings.HasPrefix(gotLines[0], "0\t") || !strings.HasPrefix(gotLines[1], "1\t") {
		t.Errorf("bucket 0 lines don't carry the expected per-bucket arrival prefix: %v", gotLines)
	}

	bucket1, err := os.ReadFile(result.Path[1])
	if err != nil {
		t.Fatalf("reading bucket 1: %v", err)
	}
	if !strings.HasPrefix(string(bucket1), "0\t") {
		t.Errorf("bucket 1's single line should start a fresh arrival counter at 0: %q", string(bucket1))
	}

	h := xxhash.New()
	_, _ = h.Write(bucket0)
	if got := h.Sum64(); got != result.Checksum[0] {
		t.Errorf("checksum for bucket 0 = %x, want %x", got, result.Checksum[0])
	}
}

func TestRouteRecordsSplitsUnalignedTailByWeight(t *testing.T) {
	rt := buildTestRefTable(t)
	inputPath := filepath.Join(t.TempDir(), "in.sam")

	lines := []string{
		samLine("u1", "*", 0),
		samLine("u2", "*", 0),
		samLine("u3", "*", 0),
		samLine("u4", "*", 0),
	}
	text := strings.Join(lines, "\n") + "\n"
	lineWeight := int64(len(lines[0])) + 3 // per-bucket arrival prefix + newline

	// Two unaligned buckets, each sized for roughly half the lines: the
	// first two records should land in bucket 0, the rest in bucket 1.
	buckets := []Bucket{
		{ID: 0, Lo: unalignedKey, Hi: unalignedKey + 1, Weight: lineWeight * 2, Unaligned: true, UnalignedSeq: 0},
		{ID: 1, Lo: unalignedKey, Hi: unalignedKey + 1, Weight: lineWeight * 2, Unaligned: true, UnalignedSeq: 1},
	}

	result, err := RouteRecords(bufio.NewReader(strings.NewReader(text)), rt, buckets, inputPath)
	if err != nil {
		t.Fatalf("RouteRecords: %v", err)
	}
	defer func() {
		for _, p := range result.Path {
			os.Remove(p)
		}
	}()

	bucket0, err := os.ReadFile(result.Path[0])
	if err != nil {
		t.Fatalf("reading bucket 0: %v", err)
	}
	bucket1, err := os.ReadFile(result.Path[1])
	if err != nil {
		t.Fatalf("reading bucket 1: %v", err)
	}

	got0 := strings.Split(strings.TrimRight(string(bucket0), "\n"), "\n")
	got1 := strings.Split(strings.TrimRight(string(bucket1), "\n"), "\n")
	if len(got0) == 0 || len(got1) == 0 {
		t.Fatalf("expected both unaligned buckets to receive records, got %d and %d", len(got0), len(got1))
	}
	if len(got0)+len(got1) != len(lines) {
		t.Fatalf("unaligned records split across buckets total %d, want %d", len(got0)+len(got1), len(lines))
	}
	if !strings.Contains(got0[0], "u1") {
		t.Errorf("bucket 0's first record should be the first unaligned record in arrival order, got %q", got0[0])
	}
	if !strings.Contains(got1[len(got1)-1], "u4") {
		t.Errorf("bucket 1's last record should be the last unaligned record in arrival order, got %q", got1[len(got1)-1])
	}
}

func TestRouteRecordsMalformedLine(t *testing.T) {
	rt := buildTestRefTable(t)
	inputPath := filepath.Join(t.TempDir(), "in.sam")
	buckets := []Bucket{{ID: 0, Lo: 0, Hi: 2 * IntervalSize}}
	text := "too\tfew\n"

	result, err := RouteRecords(bufio.NewReader(strings.NewReader(text)), rt, buckets, inputPath)
	if err == nil {
		for _, p := range result.Path {
			os.Remove(p)
		}
		t.Fatal("expected an error for a malformed record line")
	}
	var recErr *MalformedRecordError
	if got, ok := err.(*MalformedRecordError); !ok {
		t.Errorf("expected *MalformedRecordError, got %T", err)
	} else {
		recErr = got
	}
	_ = recErr
}
