package sortpipeline

import (
	"bufio"
	"fmt"
	"strings"
	"testing"
)

func buildTestRefTable(t *testing.T) *ReferenceTable {
	t.Helper()
	hdr := testHeader(t, [2]string{"chr1", "10000"}, [2]string{"chr2", "10000"})
	rt, err := BuildReferenceTable(hdr)
	if err != nil {
		t.Fatalf("BuildReferenceTable: %v", err)
	}
	return rt
}

func samLine(qname string, rname string, pos int64) string {
	return fmt.Sprintf("%s\t0\t%s\t%d\t60\t10M\t*\t0\t0\tACGTACGTAC\t**********", qname, rname, pos)
}

func TestBuildHistogramBinning(t *testing.T) {
	rt := buildTestRefTable(t)
	lines := []string{
		samLine("r1", "chr1", 1),
		samLine("r2", "chr1", 2),
		samLine("r3", "chr1", IntervalSize+1),
		samLine("r4", "*", 0),
	}
	text := strings.Join(lines, "\n") + "\n"
	hist, err := BuildHistogram(bufio.NewReader(strings.NewReader(text)), rt)
	if err != nil {
		t.Fatalf("BuildHistogram: %v", err)
	}
	if hist.Records != 4 {
		t.Errorf("Records = %d, want 4", hist.Records)
	}
	if len(hist.Bins) != 2 {
		t.Fatalf("expected 2 distinct bins, got %d: %v", len(hist.Bins), hist.Bins)
	}
	bin0Weight := hist.Bins[binOf(1)]
	wantBin0 := int64(len(lines[0])+1) + int64(len(lines[1])+1)
	if bin0Weight != wantBin0 {
		t.Errorf("bin 0 weight = %d, want %d", bin0Weight, wantBin0)
	}
	if hist.Unaligned != int64(len(lines[3])+1) {
		t.Errorf("Unaligned = %d, want %d", hist.Unaligned, len(lines[3])+1)
	}
}

func TestBuildHistogramMalformedRecord(t *testing.T) {
	rt := buildTestRefTable(t)
	text := samLine("r1", "chr1", 1) + "\ntoo\tfew\n"
	_, err := BuildHistogram(bufio.NewReader(strings.NewReader(text)), rt)
	if err == nil {
		t.Fatal("expected an error for a malformed record line")
	}
	var recErr *MalformedRecordError
	if got, ok := err.(*MalformedRecordError); !ok {
		t.Errorf("expected *MalformedRecordError, got %T", err)
	} else {
		recErr = got
	}
	if recErr != nil && recErr.Line != 2 {
		t.Errorf("MalformedRecordError.Line = %d, want 2", recErr.Line)
	}
}

func TestBuildHistogramUnknownContig(t *testing.T) {
	rt := buildTestRefTable(t)
	text := samLine("r1", "chrX", 1) + "\n"
	_, err := BuildHistogram(bufio.NewReader(strings.NewReader(text)), rt)
	if err == nil {
		t.Fatal("expected an error for an unknown reference contig")
	}
}

func TestBinOfUnaligned(t *testing.T) {
	if got := binOf(unalignedKey); got != -1 {
		t.Errorf("binOf(unalignedKey) = %d, want -1", got)
	}
}
