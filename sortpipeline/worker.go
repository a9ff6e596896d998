package sortpipeline

import (
	"bufio"
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// loadBucket reads a routed bucket's temp file into a freshly allocated
// Arena, verifying the XXH64 checksum the Routing Pass recorded for it
// before trusting the contents.
func loadBucket(path string, wantChecksum uint64, weight int64, rt *ReferenceTable) (*Arena, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IoFailureError{Path: path, Err: err}
	}
	defer f.Close()

	arena, err := NewArena(weight)
	if err != nil {
		return nil, &IoFailureError{Path: path, Err: err}
	}

	hasher := xxhash.New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<24)
	var lineNo int64
	for scanner.Scan() {
		raw := scanner.Bytes()
		hasher.Write(raw)
		hasher.Write([]byte{'\n'})
		lineNo++

		tab := indexByte(raw, '\t')
		if tab < 0 {
			arena.Close()
			return nil, &MalformedRecordError{Stage: "worker load", Line: lineNo, Err: errTooFewFields}
		}
		arrival, err := strconv.ParseInt(string(raw[:tab]), 10, 64)
		if err != nil {
			arena.Close()
			return nil, &MalformedRecordError{Stage: "worker load", Line: lineNo, Err: err}
		}
		line := raw[tab+1:]
		rname, pos, err := recordFields(string(line))
		if err != nil {
			arena.Close()
			return nil, &MalformedRecordError{Stage: "worker load", Line: lineNo, Err: err}
		}
		key, err := rt.Key(rname, pos)
		if err != nil {
			arena.Close()
			return nil, err
		}
		if err := arena.Append(arrival, key, line); err != nil {
			arena.Close()
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		arena.Close()
		return nil, &IoFailureError{Path: path, Err: err}
	}
	if got := hasher.Sum64(); got != wantChecksum {
		arena.Close()
		return nil, &IoFailureError{Path: path, Err: checksumMismatch(path, wantChecksum, got)}
	}
	return arena, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

type checksumMismatchError struct {
	path string
	want uint64
	got  uint64
}

func (e *checksumMismatchError) Error() string {
	return "bucket " + e.path + " checksum mismatch: want " + strconv.FormatUint(e.want, 16) + ", got " + strconv.FormatUint(e.got, 16)
}

func checksumMismatch(path string, want, got uint64) error {
	return &checksumMismatchError{path: path, want: want, got: got}
}

// streamUnalignedShard writes an unaligned bucket's shard directly from its
// routed temp file, in the arrival order the Routing Pass already wrote it
// in, without ever loading it into an Arena: unaligned records have nothing
// to sort by (every one carries the same coordinate key), so there is no
// reason to pay for an arena and a sort pass just to reproduce input order.
func streamUnalignedShard(path string, wantChecksum uint64, enc Encoder, inputPath, headerText string, bucketID, level int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &IoFailureError{Path: path, Err: err}
	}
	defer f.Close()

	shardPath := tempSortedShardName(inputPath, bucketID)
	w, err := enc.CreateShard(shardPath, level)
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriterSize(w, 1<<20)
	if _, err := bw.WriteString(headerText); err != nil {
		_ = w.Close()
		return "", &IoFailureError{Path: shardPath, Err: err}
	}

	hasher := xxhash.New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<24)
	for scanner.Scan() {
		raw := scanner.Bytes()
		hasher.Write(raw)
		hasher.Write([]byte{'\n'})

		tab := indexByte(raw, '\t')
		if tab < 0 {
			_ = w.Close()
			return "", &MalformedRecordError{Stage: "worker stream", Err: errTooFewFields}
		}
		if _, err := bw.Write(raw[tab+1:]); err != nil {
			_ = w.Close()
			return "", &IoFailureError{Path: shardPath, Err: err}
		}
		if err := bw.WriteByte('\n'); err != nil {
			_ = w.Close()
			return "", &IoFailureError{Path: shardPath, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		_ = w.Close()
		return "", &IoFailureError{Path: path, Err: err}
	}
	if got := hasher.Sum64(); got != wantChecksum {
		_ = w.Close()
		return "", &IoFailureError{Path: path, Err: checksumMismatch(path, wantChecksum, got)}
	}
	if err := bw.Flush(); err != nil {
		_ = w.Close()
		return "", &IoFailureError{Path: shardPath, Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &CollaboratorFailureError{Collaborator: "encoder", Err: err}
	}
	return shardPath, nil
}

// RunWorkerPool claims every planned bucket in turn via a lock-free atomic
// fetch-add counter rather than a mutex-protected one, so no worker ever
// blocks on a lock just to learn which bucket is next. Each worker owns
// exactly one Arena at a time, sized to that bucket's planned weight, except
// for an unaligned bucket, which bypasses the Arena entirely and streams
// straight through to its shard.
func RunWorkerPool(ctx context.Context, workers int, buckets []Bucket, routing *RoutingResult, rt *ReferenceTable, inputPath, headerText string, enc Encoder, level int, verbose bool) ([]string, error) {
	if workers < 1 {
		workers = 1
	}
	shardPaths := make([]string, len(buckets))
	var next int64 = -1

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				id := atomic.AddInt64(&next, 1)
				if id >= int64(len(buckets)) {
					return nil
				}
				b := buckets[id]
				if verbose {
					log.Printf("worker claimed bucket %d (%d bytes planned)", b.ID, b.Weight)
				}

				// Recorded before the shard is written, so that a failed
				// shard is still known to the caller's cleanup.
				shardPaths[id] = tempSortedShardName(inputPath, b.ID)
				var path string
				var err error
				if b.Unaligned {
					path, err = streamUnalignedShard(routing.Path[id], routing.Checksum[id], enc, inputPath, headerText, b.ID, level)
				} else {
					path, err = loadSortAndWriteShard(routing.Path[id], routing.Checksum[id], b, rt, inputPath, headerText, enc, level)
				}
				if err != nil {
					return err
				}
				shardPaths[id] = path
				if verbose {
					log.Printf("worker finished bucket %d -> %s", b.ID, path)
				}
				if err := os.Remove(routing.Path[id]); err != nil && !strings.Contains(err.Error(), "no such file") {
					log.Printf("warning: could not remove temp bucket file %s: %v", routing.Path[id], err)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return shardPaths, err
	}
	return shardPaths, nil
}

func loadSortAndWriteShard(bucketPath string, checksum uint64, b Bucket, rt *ReferenceTable, inputPath, headerText string, enc Encoder, level int) (string, error) {
	arena, err := loadBucket(bucketPath, checksum, b.Weight, rt)
	if err != nil {
		if overflow, ok := err.(*ArenaOverflowError); ok {
			overflow.Bucket = b.ID
		}
		return "", err
	}
	arena.Sort()
	path, err := WriteShard(enc, inputPath, headerText, b.ID, level, arena)
	closeErr := arena.Close()
	if err != nil {
		return "", err
	}
	if closeErr != nil {
		return "", &IoFailureError{Path: bucketPath, Err: closeErr}
	}
	return path, nil
}
