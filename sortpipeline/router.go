package sortpipeline

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/exascience/pargo/pipeline"

	"github.com/chbe-helix/fast-samtools-sort/internal"
	"github.com/chbe-helix/fast-samtools-sort/sam"
)

// bucketSink accumulates one bucket's routed lines into its temp file,
// tracking both a per-bucket arrival counter (for the stable tie-break) and
// a running XXH64 checksum the worker that later claims this bucket will
// verify before trusting its contents. The temp file itself is a plain,
// uncompressed byte stream, so it is opened through sam.CreatePlain rather
// than through one of the subprocess-backed collaborators.
type bucketSink struct {
	out     *sam.OutputFile
	hasher  *xxhash.Digest
	arrival int64
}

// RoutingResult records, for each planned bucket, the path of the temp file
// it was routed into and the checksum the worker must verify on load.
type RoutingResult struct {
	Path     []string
	Checksum []uint64
}

// tempBucketName is the fixed filesystem contract for an unsorted,
// uncompressed routed bucket: "<in>.tmp.<i>".
func tempBucketName(inputPath string, bucketID int) string {
	return fmt.Sprintf("%s.tmp.%d", inputPath, bucketID)
}

// RouteRecords streams every record line out of reader exactly once (this
// is the pipeline's second pass over the decoded input; the first pass was
// BuildHistogram's), computing each line's coordinate key and appending it
// to the temp file of the bucket that owns that key.
func RouteRecords(reader *bufio.Reader, rt *ReferenceTable, buckets []Bucket, inputPath string) (*RoutingResult, error) {
	sinks := make([]*bucketSink, len(buckets))
	for i, b := range buckets {
		path := tempBucketName(inputPath, b.ID)
		out, err := sam.CreatePlain(path)
		if err != nil {
			closeAllSinks(sinks)
			return nil, &IoFailureError{Path: path, Err: err}
		}
		sinks[i] = &bucketSink{out: out, hasher: xxhash.New()}
	}
	defer closeAllSinks(sinks)

	var lineNo int64
	var firstErr error
	lineBuf := internal.ReserveByteBuffer()
	defer internal.ReleaseByteBuffer(lineBuf)

	// The unaligned tail may span more than one bucket (see
	// splitUnalignedTail); since every unaligned record carries the same
	// key, Locate can't tell them apart, so arrival-ordered records are
	// packed into them here by running weight instead, moving on to the
	// next unaligned bucket once the current one reaches its planned share.
	var unalignedIdx []int
	for i, b := range buckets {
		if b.Unaligned {
			unalignedIdx = append(unalignedIdx, i)
		}
	}
	sort.Slice(unalignedIdx, func(i, j int) bool {
		return buckets[unalignedIdx[i]].UnalignedSeq < buckets[unalignedIdx[j]].UnalignedSeq
	})
	curUnaligned := 0
	var curUnalignedWeight int64

	var p pipeline.Pipeline
	p.Source(pipeline.NewScanner(reader))
	p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		lines := data.([]string)
		out := make([]routedLine, len(lines))
		for i, line := range lines {
			rname, pos, err := recordFields(line)
			if err != nil {
				out[i] = routedLine{line: line, err: err}
				continue
			}
			key, err := rt.Key(rname, pos)
			if err != nil {
				out[i] = routedLine{line: line, err: err}
				continue
			}
			out[i] = routedLine{line: line, key: key}
		}
		return out
	})))
	p.Add(pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
		for _, rl := range data.([]routedLine) {
			lineNo++
			if rl.err != nil {
				if firstErr == nil {
					firstErr = &MalformedRecordError{Stage: "routing", Line: lineNo, Err: rl.err}
				}
				continue
			}
			var idx int
			if rl.key == unalignedKey {
				if len(unalignedIdx) == 0 {
					if firstErr == nil {
						firstErr = &MalformedRecordError{Stage: "routing", Line: lineNo, Err: fmt.Errorf("unaligned record but no unaligned bucket was planned")}
					}
					continue
				}
				idx = unalignedIdx[curUnaligned]
			} else {
				idx = Locate(buckets, rl.key)
				if idx < 0 {
					if firstErr == nil {
						firstErr = &MalformedRecordError{Stage: "routing", Line: lineNo, Err: fmt.Errorf("key %d not covered by any planned bucket", rl.key)}
					}
					continue
				}
			}
			sink := sinks[idx]
			lineBuf = strconv.AppendInt(lineBuf[:0], sink.arrival, 10)
			lineBuf = append(lineBuf, '\t')
			lineBuf = append(lineBuf, rl.line...)
			lineBuf = append(lineBuf, '\n')
			sink.arrival++
			if _, err := sink.out.Writer().Write(lineBuf); err != nil {
				if firstErr == nil {
					firstErr = &IoFailureError{Path: buckets[idx].pathHint(inputPath), Err: err}
				}
				continue
			}
			_, _ = sink.hasher.Write(lineBuf)
			if rl.key == unalignedKey {
				curUnalignedWeight += int64(len(lineBuf))
				if curUnalignedWeight >= buckets[idx].Weight && curUnaligned < len(unalignedIdx)-1 {
					curUnaligned++
					curUnalignedWeight = 0
				}
			}
		}
		return nil
	})))
	p.Run()
	if err := p.Err(); err != nil {
		return nil, &IoFailureError{Path: "<input>", Err: err}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	result := &RoutingResult{Path: make([]string, len(buckets)), Checksum: make([]uint64, len(buckets))}
	for i, b := range buckets {
		if err := sinks[i].out.Writer().Flush(); err != nil {
			return nil, &IoFailureError{Path: tempBucketName(inputPath, b.ID), Err: err}
		}
		result.Path[i] = tempBucketName(inputPath, b.ID)
		result.Checksum[i] = sinks[i].hasher.Sum64()
	}
	return result, nil
}

func closeAllSinks(sinks []*bucketSink) {
	for _, s := range sinks {
		if s != nil {
			_ = s.out.Close()
		}
	}
}

type routedLine struct {
	line string
	key  uint64
	err  error
}

func (b Bucket) pathHint(inputPath string) string {
	return tempBucketName(inputPath, b.ID)
}
