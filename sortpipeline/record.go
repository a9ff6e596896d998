package sortpipeline

import (
	"strconv"
	"strings"

	"github.com/chbe-helix/fast-samtools-sort/internal"
)

// mandatorySAMColumns is the number of tab-delimited fields every SAM record
// line carries: QNAME, FLAG, RNAME, POS, MAPQ, CIGAR, RNEXT, PNEXT, TLEN,
// SEQ, QUAL.
const mandatorySAMColumns = 11

// recordFields pulls just the RNAME (3rd) and POS (4th) tab-delimited
// columns out of a SAM record line; the rest of the line is carried along
// unexamined, since no pipeline stage needs to understand it. Under
// internal.StrictMode it also rejects a line with fewer than the 11
// mandatory SAM columns, even though only the first four are read.
func recordFields(line string) (rname string, pos int64, err error) {
	if internal.StrictMode {
		if strings.Count(line, "\t") < mandatorySAMColumns-1 {
			return "", 0, errTooFewFields
		}
	}
	// field 1: QNAME
	i := strings.IndexByte(line, '\t')
	if i < 0 {
		return "", 0, errTooFewFields
	}
	rest := line[i+1:]
	// field 2: FLAG
	i = strings.IndexByte(rest, '\t')
	if i < 0 {
		return "", 0, errTooFewFields
	}
	rest = rest[i+1:]
	// field 3: RNAME
	i = strings.IndexByte(rest, '\t')
	if i < 0 {
		return "", 0, errTooFewFields
	}
	rname = rest[:i]
	rest = rest[i+1:]
	// field 4: POS
	i = strings.IndexByte(rest, '\t')
	var posField string
	if i < 0 {
		posField = rest
	} else {
		posField = rest[:i]
	}
	pos, err = strconv.ParseInt(posField, 10, 64)
	if err != nil {
		return "", 0, err
	}
	return rname, pos, nil
}

var errTooFewFields = &fieldCountError{}

type fieldCountError struct{}

func (*fieldCountError) Error() string {
	return "SAM record line has too few tab-delimited fields"
}
