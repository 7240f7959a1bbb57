package xmltree

import "io"

// chunkReader hands the tokenizer at most size bytes per read and drops
// control characters that XML 1.0 does not allow, such as the stray
// backspaces some feeds emit.
type chunkReader struct {
	r    io.Reader
	size int
}

func newChunkReader(r io.Reader, size int) *chunkReader {
	return &chunkReader{r: r, size: size}
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for {
		if len(p) > c.size {
			p = p[:c.size]
		}
		n, err := c.r.Read(p)
		kept := 0
		for _, b := range p[:n] {
			if isForbiddenControl(b) {
				continue
			}
			p[kept] = b
			kept++
		}
		// A chunk made only of stripped bytes must not look like EOF.
		if kept == 0 && n > 0 && err == nil {
			continue
		}
		return kept, err
	}
}

func isForbiddenControl(b byte) bool {
	return b < 0x20 && b != '\t' && b != '\n' && b != '\r'
}
