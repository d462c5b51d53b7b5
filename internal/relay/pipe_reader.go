package relay

import (
	"bufio"
	"errors"
	"io"
	"sync/atomic"
)

// Reader limits. Simulator log lines carrying JSON payloads can be long;
// anything past maxLineSize is discarded and the line is relayed truncated.
const (
	initialLineBuffer = 64 * 1024
	maxLineSize       = 1024 * 1024
)

// PipeReader reads lines from the child's stdout into a Pipeline.
type PipeReader struct {
	reader   io.Reader
	pipeline *Pipeline

	bytesRead      atomic.Int64
	linesRead      atomic.Int64
	linesTruncated atomic.Int64
	err            atomic.Value // error
}

// NewPipeReader creates a reader feeding pipeline.
func NewPipeReader(r io.Reader, pipeline *Pipeline) *PipeReader {
	return &PipeReader{
		reader:   r,
		pipeline: pipeline,
	}
}

// Run reads lines until EOF or a read error, then closes the pipeline
// channel. Blocks; run it in a dedicated goroutine.
//
// Over-long lines never stop the reader: the rest of such a line is read
// and thrown away so the writer can not stall on a full pipe.
func (p *PipeReader) Run() {
	defer p.pipeline.CloseChannel()

	br := bufio.NewReaderSize(p.reader, initialLineBuffer)
	line := make([]byte, 0, initialLineBuffer)
	truncated := false

	for {
		chunk, err := br.ReadSlice('\n')
		p.bytesRead.Add(int64(len(chunk)))

		if !truncated {
			if room := maxLineSize - len(line); len(chunk) > room {
				line = append(line, chunk[:room]...)
				truncated = true
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			p.emit(line, truncated)
			line = line[:0]
			truncated = false
		case errors.Is(err, bufio.ErrBufferFull):
			// Line continues in the next chunk.
		default:
			if len(line) > 0 {
				p.emit(line, truncated)
			}
			if !errors.Is(err, io.EOF) {
				p.err.Store(err)
			}
			return
		}
	}
}

func (p *PipeReader) emit(line []byte, truncated bool) {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	if truncated {
		p.linesTruncated.Add(1)
	}
	p.linesRead.Add(1)
	p.pipeline.FeedLine(string(line))
}

// Err returns the read error that ended Run, if any. A clean EOF is nil.
func (p *PipeReader) Err() error {
	if err, ok := p.err.Load().(error); ok {
		return err
	}
	return nil
}

// Stats returns (bytesRead, linesRead).
func (p *PipeReader) Stats() (bytesRead int64, linesRead int64) {
	return p.bytesRead.Load(), p.linesRead.Load()
}

// Truncated returns how many lines exceeded the line limit.
func (p *PipeReader) Truncated() int64 {
	return p.linesTruncated.Load()
}
