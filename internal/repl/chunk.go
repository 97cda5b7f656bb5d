package repl

import "time"

// ChunkPlan describes how a payload is split and paced for a link with no
// flow control. It holds no state.
type ChunkPlan struct {
	Size  int
	Delay time.Duration
}

// Default plans. File payloads use smaller chunks because each chunk is
// wrapped in a longer line of code.
var (
	DefaultCommandPlan = ChunkPlan{Size: 128, Delay: 10 * time.Millisecond}
	DefaultUploadPlan  = ChunkPlan{Size: 48, Delay: 10 * time.Millisecond}
)

func (p ChunkPlan) size() int {
	if p.Size < 1 {
		return 1
	}
	return p.Size
}

// Count returns how many chunks a payload of n bytes needs.
func (p ChunkPlan) Count(n int) int {
	if n <= 0 {
		return 0
	}
	size := p.size()
	return (n + size - 1) / size
}

// Split returns the payload cut into chunks. The chunks alias payload.
func (p ChunkPlan) Split(payload []byte) [][]byte {
	size := p.size()
	chunks := make([][]byte, 0, p.Count(len(payload)))
	for start := 0; start < len(payload); start += size {
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[start:end])
	}
	return chunks
}

// Join reassembles chunks produced by Split.
func Join(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
