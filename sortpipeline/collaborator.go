package sortpipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/chbe-helix/fast-samtools-sort/sam"
	"github.com/chbe-helix/fast-samtools-sort/utils"
	"github.com/chbe-helix/fast-samtools-sort/utils/bgzf"
)

// EncoderKind selects which collaborator produces the final container
// output: an external samtools/sambamba subprocess, or this pipeline's own
// native BGZF writer.
type EncoderKind int

const (
	// EncoderSamtools shells out to samtools for encoding and concatenation.
	EncoderSamtools EncoderKind = iota
	// EncoderSambamba shells out to sambamba for encoding and concatenation.
	EncoderSambamba
	// EncoderNative uses this repository's own BGZF writer, with the
	// requested compression level genuinely applied.
	EncoderNative
)

// ParseEncoderKind parses the --encoder flag's value.
func ParseEncoderKind(s string) (EncoderKind, error) {
	switch s {
	case "", "samtools":
		return EncoderSamtools, nil
	case "sambamba":
		return EncoderSambamba, nil
	case "native":
		return EncoderNative, nil
	default:
		return 0, fmt.Errorf("unrecognized --encoder value %q", s)
	}
}

// Decoder is the byte-stream collaborator that turns an input file into a
// fresh, textual SAM stream (header followed by body) on demand. Because
// samtools/sambamba decoding subprocesses can't be rewound, each pipeline
// pass that needs to read the input again calls Open a second time.
type Decoder interface {
	Open() (*bufio.Reader, io.Closer, error)
}

// subprocessDecoder spawns samtools or sambamba per Open call.
type subprocessDecoder struct {
	tool      sam.Tool
	inputPath string
}

func (d *subprocessDecoder) Open() (*bufio.Reader, io.Closer, error) {
	in, err := sam.OpenDecoder(d.tool, d.inputPath, false)
	if err != nil {
		return nil, nil, &CollaboratorFailureError{Collaborator: d.tool.String(), Err: err}
	}
	return in.Reader(), closerFunc(in.Close), nil
}

// textDecoder opens the input directly for the --input-is-text fast path
// that skips a decoder subprocess entirely. Plain and BGZF-compressed input
// (the common case, since that's what samtools itself writes) is handled
// natively via HandleBGZF; a path ending in .bz2 or .xz is opened through
// xopen instead. A gzip file that is not BGZF-framed is not decoded:
// HandleBGZF takes any gzip envelope for BGZF and fails on it.
type textDecoder struct {
	inputPath string
}

func (d *textDecoder) Open() (*bufio.Reader, io.Closer, error) {
	if isBzip2OrXz(d.inputPath) {
		r, err := xopen.Ropen(d.inputPath)
		if err != nil {
			return nil, nil, &IoFailureError{Path: d.inputPath, Err: err}
		}
		return bufio.NewReader(r), r, nil
	}
	in, err := sam.OpenPlain(d.inputPath)
	if err != nil {
		return nil, nil, &IoFailureError{Path: d.inputPath, Err: err}
	}
	return bufio.NewReader(HandleBGZF(in.Reader())), closerFunc(in.Close), nil
}

func isBzip2OrXz(path string) bool {
	switch {
	case strings.HasSuffix(path, ".bz2"), strings.HasSuffix(path, ".xz"):
		return true
	default:
		return false
	}
}

// NewDecoder builds the Decoder collaborator selected by the CLI flags.
func NewDecoder(kind EncoderKind, inputIsText bool, inputPath string) Decoder {
	if inputIsText {
		return &textDecoder{inputPath: inputPath}
	}
	tool := sam.Samtools
	if kind == EncoderSambamba {
		tool = sam.Sambamba
	}
	return &subprocessDecoder{tool: tool, inputPath: inputPath}
}

// Encoder is the byte-stream collaborator that compresses one bucket's
// sorted lines into a shard file.
type Encoder interface {
	// CreateShard opens the shard file for bucket at the given path and
	// returns a writer for the (uncompressed, textual) sorted SAM body.
	// Closing the returned writer finalizes the shard's compressed framing.
	CreateShard(path string, level int) (io.WriteCloser, error)
}

type subprocessEncoder struct {
	tool sam.Tool
}

type subprocessShard struct {
	out *sam.OutputFile
}

func (s *subprocessShard) Write(p []byte) (int, error) { return s.out.Writer().Write(p) }
func (s *subprocessShard) Close() error                { return s.out.Close() }

func (e *subprocessEncoder) CreateShard(path string, level int) (io.WriteCloser, error) {
	out, err := sam.CreateEncoder(e.tool, path, level)
	if err != nil {
		return nil, &CollaboratorFailureError{Collaborator: e.tool.String(), Err: err}
	}
	return &subprocessShard{out: out}, nil
}

// nativeEncoder writes a BGZF container directly, with the requested
// compression level actually threaded through to flate, resolving the
// never-propagated compression-level question for this backend.
type nativeEncoder struct{}

type nativeShard struct {
	file *os.File
	bgz  *bgzf.Writer
}

func (s *nativeShard) Write(p []byte) (int, error) { return s.bgz.Write(p) }

func (s *nativeShard) Close() error {
	if err := s.bgz.Close(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func (e *nativeEncoder) CreateShard(path string, level int) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &IoFailureError{Path: path, Err: err}
	}
	return &nativeShard{file: f, bgz: bgzf.NewWriter(f, level)}, nil
}

// NewEncoder builds the Encoder collaborator selected by the CLI flags.
func NewEncoder(kind EncoderKind) Encoder {
	switch kind {
	case EncoderSambamba:
		return &subprocessEncoder{tool: sam.Sambamba}
	case EncoderNative:
		return &nativeEncoder{}
	default:
		return &subprocessEncoder{tool: sam.Samtools}
	}
}

// Concatenator is the byte-stream collaborator that splices the header and
// every sorted shard, in bucket-ID order, into the final output container.
type Concatenator interface {
	Concatenate(outputPath, headerText string, shardPaths []string) error
}

type subprocessConcatenator struct {
	tool sam.Tool
}

func (c *subprocessConcatenator) Concatenate(outputPath, headerText string, shardPaths []string) error {
	headerFile, err := os.CreateTemp("", "fast-samtools-sort-header-*.sam")
	if err != nil {
		return &IoFailureError{Path: "<header temp>", Err: err}
	}
	defer os.Remove(headerFile.Name())
	if _, err := headerFile.WriteString(headerText); err != nil {
		_ = headerFile.Close()
		return &IoFailureError{Path: headerFile.Name(), Err: err}
	}
	if err := headerFile.Close(); err != nil {
		return &IoFailureError{Path: headerFile.Name(), Err: err}
	}
	if err := sam.Concatenate(c.tool, outputPath, headerFile.Name(), shardPaths); err != nil {
		return &CollaboratorFailureError{Collaborator: c.tool.String(), Err: err}
	}
	return nil
}

// nativeConcatenator writes a single BGZF stream: the header once, followed
// by every shard's records in bucket-ID order. Each shard file is itself a
// complete, self-describing BGZF container (header then records, written by
// WriteShard/streamUnalignedShard) so that the subprocess encoders can
// decode it standalone; decompressing it back here and discarding its
// leading headerText bytes before re-compressing into the shared writer is
// what turns those N self-describing containers into one.
type nativeConcatenator struct {
	level int
}

func (c *nativeConcatenator) Concatenate(outputPath, headerText string, shardPaths []string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return &IoFailureError{Path: outputPath, Err: err}
	}
	defer out.Close()

	w := bgzf.NewWriter(out, c.level)
	if _, err := w.Write([]byte(headerText)); err != nil {
		_ = w.Close()
		return &IoFailureError{Path: outputPath, Err: err}
	}
	for _, shardPath := range shardPaths {
		if err := copyShardRecords(w, shardPath, int64(len(headerText))); err != nil {
			_ = w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return &IoFailureError{Path: outputPath, Err: err}
	}
	return nil
}

// copyShardRecords decompresses shardPath, discards its leading headerLen
// bytes (the header every shard was given by WriteShard/streamUnalignedShard),
// and writes the remaining record bytes to w.
func copyShardRecords(w io.Writer, shardPath string, headerLen int64) error {
	in, err := os.Open(shardPath)
	if err != nil {
		return &IoFailureError{Path: shardPath, Err: err}
	}
	defer in.Close()
	r, err := bgzf.NewReader(bufio.NewReader(in))
	if err != nil {
		return &IoFailureError{Path: shardPath, Err: err}
	}
	if _, err := io.CopyN(io.Discard, r, headerLen); err != nil && err != io.EOF {
		return &IoFailureError{Path: shardPath, Err: err}
	}
	if _, err := io.Copy(w, r); err != nil {
		return &IoFailureError{Path: shardPath, Err: err}
	}
	return nil
}

// NewConcatenator builds the Concatenator collaborator selected by the CLI
// flags.
func NewConcatenator(kind EncoderKind, level int) Concatenator {
	switch kind {
	case EncoderSambamba:
		return &subprocessConcatenator{tool: sam.Sambamba}
	case EncoderNative:
		return &nativeConcatenator{level: level}
	default:
		return &subprocessConcatenator{tool: sam.Samtools}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// HandleBGZF re-exports utils.HandleBGZF for callers in this package that
// need to transparently decompress a BGZF-compressed textual-SAM input.
func HandleBGZF(buf *bufio.Reader) io.Reader {
	return utils.HandleBGZF(buf)
}
