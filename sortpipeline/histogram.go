package sortpipeline

import (
	"bufio"

	"github.com/exascience/pargo/pipeline"
)

// IntervalSize is the width, in genomic positions, of one histogram bin.
// Fixed at 1024, the value used by the most recent variant of the program
// this pipeline reimplements (earlier variants used 1,000,000).
const IntervalSize = 1024

// Histogram accumulates the total byte weight of every record line
// belonging to each bin of IntervalSize positions, plus a dedicated tail
// bin for unaligned ("*") records.
type Histogram struct {
	Bins      map[int64]int64 // bin id -> total bytes of lines in this bin
	Unaligned int64           // total bytes of unaligned record lines
	Records   int64
}

func newHistogram() *Histogram {
	return &Histogram{Bins: make(map[int64]int64)}
}

func binOf(key uint64) int64 {
	if key == unalignedKey {
		return -1
	}
	return int64(key / IntervalSize)
}

// BuildHistogram streams every record line out of reader exactly once,
// classifying each into a histogram bin by its coordinate key. It never
// retains a full line; each line is discarded once its weight has been
// tallied. The scan is driven by a pargo pipeline with a parallel keying
// stage and a strictly ordered (so map writes never race) reduce stage.
func BuildHistogram(reader *bufio.Reader, rt *ReferenceTable) (*Histogram, error) {
	hist := newHistogram()
	var lineNo int64
	var firstErr error

	var p pipeline.Pipeline
	p.Source(pipeline.NewScanner(reader))
	p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		lines := data.([]string)
		out := make([]histogramLine, len(lines))
		for i, line := range lines {
			rname, pos, err := recordFields(line)
			if err != nil {
				out[i] = histogramLine{err: &MalformedRecordError{Stage: "histogram", Err: err}, weight: int64(len(line)) + 1}
				continue
			}
			key, err := rt.Key(rname, pos)
			if err != nil {
				out[i] = histogramLine{err: err, weight: int64(len(line)) + 1}
				continue
			}
			out[i] = histogramLine{bin: binOf(key), weight: int64(len(line)) + 1}
		}
		return out
	})))
	p.Add(pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
		for _, hl := range data.([]histogramLine) {
			lineNo++
			if hl.err != nil {
				if firstErr == nil {
					if mre, ok := hl.err.(*MalformedRecordError); ok {
						mre.Line = lineNo
						firstErr = mre
					} else {
						firstErr = hl.err
					}
				}
				continue
			}
			if hl.bin < 0 {
				hist.Unaligned += hl.weight
			} else {
				hist.Bins[hl.bin] += hl.weight
			}
			hist.Records++
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
	return hist, nil
}

type histogramLine struct {
	bin    int64
	weight int64
	err    error
}
