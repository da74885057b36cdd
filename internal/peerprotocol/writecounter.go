package peerprotocol

import "io"

// writerCounter counts bytes written through it so WriteTo can report n.
type writerCounter struct {
	w     io.Writer
	count int64
}

func (w *writerCounter) Write(buf []byte) (int, error) {
	n, err := w.w.Write(buf)
	w.count += int64(n)
	return n, err
}
