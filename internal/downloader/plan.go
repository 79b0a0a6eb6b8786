package downloader

import (
	"fmt"
	"sort"

	"github.com/tanq16/keeper/internal/utils"
)

// PlanChunks splits [offset, total) into at most maxParallel equal spans of at
// least minChunk bytes each; the last span absorbs the remainder. A negative
// total yields one open-ended chunk starting at offset.
func PlanChunks(offset, total int64, maxParallel int, minChunk int64) []*Chunk {
	if total < 0 {
		return []*Chunk{NewChunk(0, offset, -1)}
	}
	remaining := total - offset
	if remaining <= 0 {
		return nil
	}
	n := int64(max(maxParallel, 1))
	if minChunk > 0 {
		n = min(n, remaining/minChunk)
	}
	n = max(n, 1)
	span := remaining / n
	chunks := make([]*Chunk, 0, n)
	for i := range n {
		start := offset + i*span
		end := start + span - 1
		if i == n-1 {
			end = total - 1
		}
		chunks = append(chunks, NewChunk(int(i), start, end))
	}
	return chunks
}

// ResumePlan builds a plan for a download whose first completed bytes are
// already on disk, as when only a contiguous offset was persisted.
func ResumePlan(completed, total int64, maxParallel int, minChunk int64) []*Chunk {
	var chunks []*Chunk
	if total >= 0 {
		completed = min(completed, total)
	}
	if completed > 0 {
		done := NewChunk(0, 0, completed-1)
		done.add(completed)
		chunks = append(chunks, done)
	}
	chunks = append(chunks, PlanChunks(completed, total, maxParallel, minChunk)...)
	renumber(chunks)
	return chunks
}

// Replan recomputes ranges after an interrupted run. Transferred prefixes of
// each chunk are kept as completed chunks and only the gaps are fetched again.
// A single remaining gap is re-split so a resumed download regains its
// parallelism.
func Replan(chunks []*Chunk, maxParallel int, minChunk int64) []*Chunk {
	type span struct{ start, end int64 }
	var done, gaps []span
	for _, c := range chunks {
		if d := c.Downloaded(); d > 0 {
			done = append(done, span{c.Start, c.Start + d - 1})
		}
		if !c.Done() {
			gaps = append(gaps, span{c.Offset(), c.End})
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].start < done[j].start })

	var out []*Chunk
	for i := 0; i < len(done); {
		merged := done[i]
		for i++; i < len(done) && done[i].start == merged.end+1; i++ {
			merged.end = done[i].end
		}
		c := NewChunk(0, merged.start, merged.end)
		c.add(merged.end - merged.start + 1)
		out = append(out, c)
	}
	if len(gaps) == 1 {
		g := gaps[0]
		total := g.end + 1
		if g.end < 0 {
			total = -1
		}
		out = append(out, PlanChunks(g.start, total, maxParallel, minChunk)...)
	} else {
		for _, g := range gaps {
			out = append(out, NewChunk(0, g.start, g.end))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	renumber(out)
	return out
}

// ValidatePlan checks that chunks are ordered, disjoint and together cover
// [0, size). With an unknown size the last chunk must be open-ended.
func ValidatePlan(chunks []*Chunk, size int64) error {
	if size == 0 {
		if len(chunks) != 0 {
			return fmt.Errorf("%w: empty resource with %d chunks", utils.ErrCorruptState, len(chunks))
		}
		return nil
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks planned", utils.ErrCorruptState)
	}
	var next int64
	for i, c := range chunks {
		if c.Start != next {
			return fmt.Errorf("%w: chunk %d starts at %d, expected %d", utils.ErrCorruptState, i, c.Start, next)
		}
		last := i == len(chunks)-1
		if c.End < 0 {
			if !last || size >= 0 {
				return fmt.Errorf("%w: chunk %d has no end", utils.ErrCorruptState, i)
			}
			return nil
		}
		if c.End < c.Start {
			return fmt.Errorf("%w: chunk %d ends before it starts", utils.ErrCorruptState, i)
		}
		if c.Downloaded() > c.Length() {
			return fmt.Errorf("%w: chunk %d overfilled", utils.ErrCorruptState, i)
		}
		next = c.End + 1
	}
	if size >= 0 && next != size {
		return fmt.Errorf("%w: chunks cover %d of %d bytes", utils.ErrCorruptState, next, size)
	}
	return nil
}

func renumber(chunks []*Chunk) {
	for i, c := range chunks {
		c.ID = i
	}
}
