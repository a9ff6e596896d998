package sortpipeline

import (
	"context"
	"log"
	"os"

	"github.com/chbe-helix/fast-samtools-sort/sam"
)

// Options configures one end-to-end sort run.
type Options struct {
	InputPath   string
	OutputPath  string
	Level       int   // 0-9, zlib-style compression level
	MemoryBytes int64 // total memory budget, divided evenly across Workers
	Workers     int
	Verbose     bool
	InputIsText bool
	Encoder     EncoderKind
}

// Sort runs the full histogram / plan / route / per-bucket-sort / shard /
// concatenate pipeline described by this package, cleaning up every
// intermediate file it created before returning, whether it succeeds or
// fails partway through.
func Sort(ctx context.Context, opts Options) error {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	budget := opts.MemoryBytes / int64(workers)
	if budget <= 0 {
		budget = 1
	}

	decoder := NewDecoder(opts.Encoder, opts.InputIsText, opts.InputPath)

	headerText, rt, hist, err := firstPass(decoder, opts.Verbose)
	if err != nil {
		return err
	}

	buckets := PlanBuckets(hist, budget)
	if opts.Verbose {
		log.Printf("planned %d buckets from %d histogram bins (budget %d bytes/worker)", len(buckets), len(hist.Bins), budget)
	}

	routing, err := secondPass(decoder, rt, buckets, opts.InputPath, opts.Verbose)
	if err != nil {
		for _, b := range buckets {
			_ = os.Remove(tempBucketName(opts.InputPath, b.ID))
		}
		return err
	}

	enc := NewEncoder(opts.Encoder)
	shardPaths, err := RunWorkerPool(ctx, workers, buckets, routing, rt, opts.InputPath, headerText, enc, opts.Level, opts.Verbose)
	if err != nil {
		cleanupBucketFiles(routing)
		cleanupShardFiles(shardPaths)
		return err
	}

	concat := NewConcatenator(opts.Encoder, opts.Level)
	if err := concat.Concatenate(opts.OutputPath, headerText, shardPaths); err != nil {
		cleanupShardFiles(shardPaths)
		return err
	}

	cleanupShardFiles(shardPaths)
	if opts.Verbose {
		log.Printf("wrote sorted output to %s", opts.OutputPath)
	}
	return nil
}

func firstPass(decoder Decoder, verbose bool) (headerText string, rt *ReferenceTable, hist *Histogram, err error) {
	reader, closer, err := decoder.Open()
	if err != nil {
		return "", nil, nil, err
	}
	defer closer.Close()

	hdr, text, err := sam.ParseHeader(reader)
	if err != nil {
		return "", nil, nil, &MalformedHeaderError{Stage: "header pass", Err: err}
	}
	rt, err = BuildReferenceTable(hdr)
	if err != nil {
		return "", nil, nil, err
	}
	if verbose {
		log.Printf("parsed header: %d reference sequences, genome length %d", len(hdr.SQ), rt.GenomeLength())
	}
	hist, err = BuildHistogram(reader, rt)
	if err != nil {
		return "", nil, nil, err
	}
	if verbose {
		log.Printf("histogram pass: %d records, %d bins, %d unaligned bytes", hist.Records, len(hist.Bins), hist.Unaligned)
	}
	return text, rt, hist, nil
}

func secondPass(decoder Decoder, rt *ReferenceTable, buckets []Bucket, inputPath string, verbose bool) (*RoutingResult, error) {
	reader, closer, err := decoder.Open()
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if _, err := sam.SkipHeader(reader); err != nil {
		return nil, &MalformedHeaderError{Stage: "routing pass", Err: err}
	}
	routing, err := RouteRecords(reader, rt, buckets, inputPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		log.Printf("routing pass: routed into %d bucket files", len(routing.Path))
	}
	return routing, nil
}

func cleanupBucketFiles(routing *RoutingResult) {
	if routing == nil {
		return
	}
	for _, p := range routing.Path {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

func cleanupShardFiles(paths []string) {
	for _, p := range paths {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}
