package downloader

import (
	"fmt"
	"sync/atomic"
)

// Chunk is one contiguous byte range [Start, End] of a download. End is -1
// while the resource size is unknown; such a chunk runs until EOF.
type Chunk struct {
	ID    int
	Start int64
	End   int64

	downloaded atomic.Int64
	attempts   atomic.Int32
}

// ChunkState is the plain-value projection of a Chunk used for persistence.
type ChunkState struct {
	Start      int64
	End        int64
	Downloaded int64
}

func NewChunk(id int, start, end int64) *Chunk {
	return &Chunk{ID: id, Start: start, End: end}
}

// ChunkFromState rebuilds a chunk, clamping the downloaded count to the range.
func ChunkFromState(id int, s ChunkState) *Chunk {
	c := NewChunk(id, s.Start, s.End)
	downloaded := max(s.Downloaded, 0)
	if c.End >= 0 && downloaded > c.Length() {
		downloaded = c.Length()
	}
	c.downloaded.Store(downloaded)
	return c
}

func (c *Chunk) State() ChunkState {
	return ChunkState{Start: c.Start, End: c.End, Downloaded: c.Downloaded()}
}

func (c *Chunk) Downloaded() int64 {
	return c.downloaded.Load()
}

// Length is the size of the range, or -1 when the end is unknown.
func (c *Chunk) Length() int64 {
	if c.End < 0 {
		return -1
	}
	return c.End - c.Start + 1
}

func (c *Chunk) Remaining() int64 {
	if c.End < 0 {
		return -1
	}
	return c.Length() - c.Downloaded()
}

// Offset is the next file offset this chunk will write to.
func (c *Chunk) Offset() int64 {
	return c.Start + c.Downloaded()
}

func (c *Chunk) Done() bool {
	return c.End >= 0 && c.Downloaded() >= c.Length()
}

func (c *Chunk) Attempts() int {
	return int(c.attempts.Load())
}

func (c *Chunk) add(n int64) {
	c.downloaded.Add(n)
}

// reset discards the transferred bytes and returns how many were dropped.
func (c *Chunk) reset() int64 {
	return c.downloaded.Swap(0)
}

func (c *Chunk) rangeHeader() string {
	if c.End < 0 {
		return fmt.Sprintf("bytes=%d-", c.Offset())
	}
	return fmt.Sprintf("bytes=%d-%d", c.Offset(), c.End)
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk %d [%d-%d] %d bytes done", c.ID, c.Start, c.End, c.Downloaded())
}

// TotalDownloaded sums the transferred bytes over chunks.
func TotalDownloaded(chunks []*Chunk) int64 {
	var total int64
	for _, c := range chunks {
		total += c.Downloaded()
	}
	return total
}

// AllDone reports whether every chunk is complete. An empty plan is complete.
func AllDone(chunks []*Chunk) bool {
	for _, c := range chunks {
		if !c.Done() {
			return false
		}
	}
	return true
}
