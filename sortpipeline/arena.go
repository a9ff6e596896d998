package sortpipeline

import (
	"bufio"
	"io"
	"sort"

	"github.com/edsrzf/mmap-go"
	psort "github.com/exascience/pargo/sort"
)

// lineEntry indexes one record line inside an Arena without ever copying
// or moving the line's bytes: arrival records the line's original position
// within its bucket (for a stable tie-break), key is its coordinate key,
// and off/length locate the line inside the Arena's backing slab.
type lineEntry struct {
	arrival int64
	key     uint64
	off     int64
	length  int32
}

// Arena is a worker's private, contiguous, anonymously-mapped byte slab
// holding every record line belonging to one bucket, plus an index that
// can be sorted by coordinate key without relocating any line byte —
// mirroring the "index vector of offsets, not the lines themselves, moves
// during the sort" design of the per-bucket sort stage.
type Arena struct {
	region mmap.MMap
	used   int64
	lines  []lineEntry
}

// NewArena allocates an anonymous, page-backed buffer sized to hold size
// bytes of line data. Using an anonymous memory mapping instead of a
// GC-tracked slice keeps each worker's multi-hundred-megabyte buffer off
// the garbage collector's scan list.
func NewArena(size int64) (*Arena, error) {
	if size < 4096 {
		size = 4096
	}
	region, err := mmap.MapRegion(nil, int(size), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, err
	}
	return &Arena{region: region}, nil
}

// Close unmaps the Arena's backing buffer.
func (a *Arena) Close() error {
	return a.region.Unmap()
}

// Append copies line into the Arena's backing slab (without its trailing
// newline) and records an index entry for it. It reports ArenaOverflowError
// if the Arena has no room left.
func (a *Arena) Append(arrival int64, key uint64, line []byte) error {
	need := int64(len(line))
	if a.used+need > int64(len(a.region)) {
		return &ArenaOverflowError{Needed: a.used + need, Budget: int64(len(a.region))}
	}
	off := a.used
	copy(a.region[off:off+need], line)
	a.used += need
	a.lines = append(a.lines, lineEntry{arrival: arrival, key: key, off: off, length: int32(need)})
	return nil
}

// Line returns the bytes of the i'th indexed line, in index order (not
// sorted order until Sort has been called).
func (a *Arena) Line(i int) []byte {
	e := a.lines[i]
	return a.region[e.off : e.off+int64(e.length)]
}

// Len is the number of indexed lines.
func (a *Arena) Len() int { return len(a.lines) }

// Sort stably reorders the Arena's index by (key, arrival) — never moving
// the underlying line bytes — using pargo's parallel stable sort.
func (a *Arena) Sort() {
	psort.StableSort(arenaSorter(a.lines))
}

// WriteSortedTo writes every line, in sorted order, to w, each terminated
// with a newline.
func (a *Arena) WriteSortedTo(w *bufio.Writer) error {
	for i := range a.lines {
		if _, err := w.Write(a.Line(i)); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// arenaSorter adapts an Arena's index to pargo/sort's StableSorter
// interface.
type arenaSorter []lineEntry

func (s arenaSorter) SequentialSort(i, j int) {
	lines := s[i:j]
	sort.SliceStable(lines, func(a, b int) bool { return lineLess(lines[a], lines[b]) })
}

func (s arenaSorter) NewTemp() psort.StableSorter {
	return arenaSorter(make([]lineEntry, len(s)))
}

func (s arenaSorter) Len() int { return len(s) }

func (s arenaSorter) Less(i, j int) bool {
	return lineLess(s[i], s[j])
}

func (s arenaSorter) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s arenaSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(arenaSorter)
	return func(i, j, length int) {
		copy(dst[i:i+length], src[j:j+length])
	}
}

func lineLess(a, b lineEntry) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.arrival < b.arrival
}

var _ io.Closer = (*Arena)(nil)
