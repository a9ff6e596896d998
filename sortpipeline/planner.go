package sortpipeline

import "sort"

// Bucket is one unit of routing and per-worker sorting work: every record
// whose coordinate key falls in [Lo, Hi) — or, for an unaligned bucket,
// every record with key == unalignedKey assigned to it by UnalignedSeq —
// is routed here.
type Bucket struct {
	ID        int
	Lo, Hi    uint64
	Weight    int64
	Unaligned bool
	// UnalignedSeq orders the unaligned buckets (0, 1, 2, ...) when the
	// unaligned tail has been split across more than one of them; it is
	// meaningless on an aligned bucket.
	UnalignedSeq int
}

// PlanBuckets merges the Histogram's bins into Buckets whose total byte
// weight does not exceed budget, splitting any single bin whose own weight
// already exceeds budget into equal-width position sub-spans so that no
// resulting bucket's *planned* weight exceeds it either. The unaligned
// ("*") records are likewise split into as many unaligned buckets as it
// takes to keep each one's weight at or under budget, same as an oversized
// aligned bin, but since unaligned records carry no position to sub-split
// by, the split is an equal-weight chunking of the tail in arrival order
// instead of a position-proportional one.
func PlanBuckets(hist *Histogram, budget int64) []Bucket {
	if budget <= 0 {
		budget = 1
	}
	binIDs := make([]int64, 0, len(hist.Bins))
	for id := range hist.Bins {
		binIDs = append(binIDs, id)
	}
	sort.Slice(binIDs, func(i, j int) bool { return binIDs[i] < binIDs[j] })

	var buckets []Bucket
	nextID := 0

	flushRun := func(loBin, hiBin int64, weight int64) {
		buckets = append(buckets, Bucket{
			ID:     nextID,
			Lo:     uint64(loBin) * IntervalSize,
			Hi:     uint64(hiBin) * IntervalSize,
			Weight: weight,
		})
		nextID++
	}

	var runLo, runHi int64
	var runWeight int64
	haveRun := false

	for _, id := range binIDs {
		w := hist.Bins[id]
		if w > budget {
			if haveRun {
				flushRun(runLo, runHi, runWeight)
				haveRun = false
			}
			for _, b := range splitOversizedBin(id, w, budget, &nextID) {
				buckets = append(buckets, b)
			}
			continue
		}
		switch {
		case !haveRun:
			runLo, runHi, runWeight = id, id+1, w
			haveRun = true
		case runWeight+w <= budget && id == runHi:
			runHi = id + 1
			runWeight += w
		default:
			flushRun(runLo, runHi, runWeight)
			runLo, runHi, runWeight = id, id+1, w
		}
	}
	if haveRun {
		flushRun(runLo, runHi, runWeight)
	}

	if hist.Unaligned > 0 {
		for _, b := range splitUnalignedTail(hist.Unaligned, budget, &nextID) {
			buckets = append(buckets, b)
		}
	}
	return buckets
}

// splitUnalignedTail divides the unaligned ("*") records' total weight into
// ceil(weight/budget) equal-weight buckets, each flagged Unaligned and
// numbered by UnalignedSeq so the Routing Pass can chunk the tail across
// them in arrival order without ever needing a position to split by.
func splitUnalignedTail(weight, budget int64, nextID *int) []Bucket {
	numBuckets := int((weight + budget - 1) / budget)
	if numBuckets < 1 {
		numBuckets = 1
	}
	subWeight := weight / int64(numBuckets)
	remainder := weight - subWeight*int64(numBuckets)

	result := make([]Bucket, 0, numBuckets)
	for i := 0; i < numBuckets; i++ {
		w := subWeight
		if int64(i) < remainder {
			w++ // spread the rounding remainder one byte per bucket
		}
		result = append(result, Bucket{
			ID:           *nextID,
			Lo:           unalignedKey,
			Hi:           unalignedKey + 1,
			Weight:       w,
			Unaligned:    true,
			UnalignedSeq: i,
		})
		*nextID++
	}
	return result
}

// splitOversizedBin divides a single over-budget bin into ceil(weight/budget)
// equal-width position sub-spans, assuming the bin's bytes are spread evenly
// across its position range — the Bucket Planner's documented resolution
// for a histogram bin too large to ever fit a single worker's arena.
func splitOversizedBin(binID, weight, budget int64, nextID *int) []Bucket {
	numSubs := int((weight + budget - 1) / budget)
	if numSubs < 1 {
		numSubs = 1
	}
	lo := uint64(binID) * IntervalSize
	span := uint64(IntervalSize)
	subWidth := span / uint64(numSubs)
	if subWidth == 0 {
		subWidth = 1
	}
	subWeight := weight / int64(numSubs)

	result := make([]Bucket, 0, numSubs)
	cursor := lo
	for i := 0; i < numSubs; i++ {
		hi := cursor + subWidth
		if i == numSubs-1 {
			hi = lo + span // absorb rounding remainder into the last sub-span
		}
		result = append(result, Bucket{
			ID:     *nextID,
			Lo:     cursor,
			Hi:     hi,
			Weight: subWeight,
		})
		*nextID++
		cursor = hi
	}
	return result
}

// Locate returns the index into buckets (sorted by Lo, which PlanBuckets
// guarantees) that owns key, or -1 if no bucket covers it. For an unaligned
// key it returns the first unaligned bucket (UnalignedSeq 0); when the
// unaligned tail has been split into more than one bucket, the Routing Pass
// does not use Locate for unaligned keys at all, since picking among them
// requires tracking running weight, not just the key.
func Locate(buckets []Bucket, key uint64) int {
	if key == unalignedKey {
		for i := 0; i < len(buckets); i++ {
			if buckets[i].Unaligned {
				return i
			}
		}
		return -1
	}
	lo, hi := 0, len(buckets)
	for lo < hi {
		mid := (lo + hi) / 2
		b := buckets[mid]
		switch {
		case b.Unaligned:
			hi = mid
		case key < b.Lo:
			hi = mid
		case key >= b.Hi:
			lo = mid + 1
		default:
			return mid
		}
	}
	return -1
}
