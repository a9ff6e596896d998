package sortpipeline

import (
	"fmt"
	"strconv"

	"github.com/chbe-helix/fast-samtools-sort/sam"
)

// unalignedKey is the coordinate key assigned to records with RNAME "*",
// sorting them after every aligned record regardless of worker count or
// bucket boundaries.
var unalignedKey = ^uint64(0)

// ReferenceTable maps each @SQ contig name to its cumulative genome offset,
// so that a coordinate key K = G(contig) + position is comparable across
// contigs without ever comparing contig names directly.
type ReferenceTable struct {
	offset map[string]uint64
	length map[string]uint64
	order  []string
}

// BuildReferenceTable walks a parsed header's @SQ records in file order and
// assigns each one a cumulative offset equal to the sum of the lengths of
// every contig listed before it, per the coordinate key definition K =
// G(contig) + position.
func BuildReferenceTable(hdr *sam.Header) (*ReferenceTable, error) {
	rt := &ReferenceTable{
		offset: make(map[string]uint64, len(hdr.SQ)),
		length: make(map[string]uint64, len(hdr.SQ)),
	}
	var cumulative uint64
	for _, sq := range hdr.SQ {
		sn := sq["SN"]
		ln, err := strconv.ParseUint(sq["LN"], 10, 64)
		if err != nil {
			return nil, &MalformedHeaderError{Stage: "reference table", Err: err}
		}
		if _, dup := rt.offset[sn]; dup {
			continue // a repeated @SQ for the same contig keeps its first offset
		}
		rt.offset[sn] = cumulative
		rt.length[sn] = ln
		rt.order = append(rt.order, sn)
		cumulative += ln
	}
	return rt, nil
}

// Key computes the coordinate key for a record with the given contig name
// and 1-based leftmost position. Unaligned records (rname == "*") sort last.
func (rt *ReferenceTable) Key(rname string, pos int64) (uint64, error) {
	if rname == "*" {
		return unalignedKey, nil
	}
	g, ok := rt.offset[rname]
	if !ok {
		return 0, &MalformedRecordError{Stage: "keying", Err: fmt.Errorf("unknown reference contig %q", rname)}
	}
	if pos < 0 {
		pos = 0
	}
	return g + uint64(pos), nil
}

// GenomeLength returns the total length of all listed contigs, i.e. the
// coordinate key of the first position past the last contig.
func (rt *ReferenceTable) GenomeLength() uint64 {
	if len(rt.order) == 0 {
		return 0
	}
	last := rt.order[len(rt.order)-1]
	return rt.offset[last] + rt.length[last]
}
