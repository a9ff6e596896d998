package sortpipeline

import (
	"bufio"
	"strconv"
)

// tempSortedShardName is the fixed filesystem contract for a sorted,
// compressed shard: "<in>.tmp.sorted.<i>".
func tempSortedShardName(inputPath string, bucketID int) string {
	return inputPath + ".tmp.sorted." + strconv.Itoa(bucketID)
}

// WriteShard writes headerText in full, then drains an already-sorted
// Arena's records, through the Encoder collaborator into the bucket's
// compressed shard file. Every shard carries the same header bytes as the
// input, byte-identical, so it is independently decodable: samtools and
// sambamba both need a reference dictionary to map RNAME to a BAM ref id
// when they encode the records that follow, and the Concatenator later
// relies on every shard being a well-formed, self-describing container.
func WriteShard(enc Encoder, inputPath, headerText string, bucketID, level int, arena *Arena) (string, error) {
	path := tempSortedShardName(inputPath, bucketID)
	w, err := enc.CreateShard(path, level)
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriterSize(w, 1<<20)
	if _, err := bw.WriteString(headerText); err != nil {
		_ = w.Close()
		return "", &IoFailureError{Path: path, Err: err}
	}
	if err := arena.WriteSortedTo(bw); err != nil {
		_ = w.Close()
		return "", &IoFailureError{Path: path, Err: err}
	}
	if err := bw.Flush(); err != nil {
		_ = w.Close()
		return "", &IoFailureError{Path: path, Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &CollaboratorFailureError{Collaborator: "encoder", Err: err}
	}
	return path, nil
}
