package localstore

import "encoding/binary"

// IndexRecordSize is the fixed width of one index record, per the on-disk
// format every reader (local and remote) relies on.
const IndexRecordSize = 40

// IndexRecord is one 40-byte, big-endian record in an index file:
// offset i64, length i32, uncompress_length i32, crc i64, block_id i64,
// task_attempt_id i64. Offsets refer to the companion data file in append
// order.
type IndexRecord struct {
	Offset           int64
	Length           int32
	UncompressLength int32
	CRC              int64
	BlockID          int64
	TaskAttemptID    int64
}

// Encode writes the record into a freshly allocated 40-byte big-endian
// buffer.
func (r IndexRecord) Encode() []byte {
	buf := make([]byte, IndexRecordSize)

	binary.BigEndian.PutUint64(buf[0:8], uint64(r.Offset))
	binary.BigEndian.PutUint32(buf[8:12], uint32(r.Length))
	binary.BigEndian.PutUint32(buf[12:16], uint32(r.UncompressLength))
	binary.BigEndian.PutUint64(buf[16:24], uint64(r.CRC))
	binary.BigEndian.PutUint64(buf[24:32], uint64(r.BlockID))
	binary.BigEndian.PutUint64(buf[32:40], uint64(r.TaskAttemptID))

	return buf
}

// DecodeIndexRecord parses exactly IndexRecordSize bytes.
func DecodeIndexRecord(buf []byte) IndexRecord {
	return IndexRecord{
		Offset:           int64(binary.BigEndian.Uint64(buf[0:8])),
		Length:           int32(binary.BigEndian.Uint32(buf[8:12])),
		UncompressLength: int32(binary.BigEndian.Uint32(buf[12:16])),
		CRC:              int64(binary.BigEndian.Uint64(buf[16:24])),
		BlockID:          int64(binary.BigEndian.Uint64(buf[24:32])),
		TaskAttemptID:    int64(binary.BigEndian.Uint64(buf[32:40])),
	}
}

// DecodeIndexFile splits a whole index file's bytes into records. buf must
// already be truncated to a 40-byte boundary.
func DecodeIndexFile(buf []byte) []IndexRecord {
	n := len(buf) / IndexRecordSize
	records := make([]IndexRecord, n)

	for i := range records {
		records[i] = DecodeIndexRecord(buf[i*IndexRecordSize : (i+1)*IndexRecordSize])
	}

	return records
}

// TruncatedLength returns size rounded down to the nearest 40-byte
// boundary, used during crash recovery to discard a partially written
// trailing index record.
func TruncatedLength(size int64) int64 {
	return (size / IndexRecordSize) * IndexRecordSize
}
