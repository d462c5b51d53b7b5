// Package relay moves the simulator's stdout to a line consumer without ever
// blocking the simulator.
//
// Two layers:
//
//	Reader: reads lines fast, drops if the channel is full
//	Parser: consumes from the channel at its own pace
//
// The simulator writes to a pipe; if nobody drained it fast enough the child
// would stall on write. Dropping lines is preferred to that.
package relay

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the channel capacity used when none is given.
const DefaultBufferSize = 1000

// LineParser consumes relayed lines.
type LineParser interface {
	ParseLine(line string)
}

// LineParserFunc adapts a function to LineParser.
type LineParserFunc func(line string)

// ParseLine calls f(line).
func (f LineParserFunc) ParseLine(line string) { f(line) }

// Multi fans a line out to several parsers in order.
type Multi []LineParser

// ParseLine hands line to every parser.
func (m Multi) ParseLine(line string) {
	for _, p := range m {
		p.ParseLine(line)
	}
}

// NoopParser discards lines.
type NoopParser struct{}

// ParseLine does nothing.
func (NoopParser) ParseLine(string) {}

// Pipeline is a bounded, lossy line channel between a reader and a parser.
type Pipeline struct {
	stream string

	lineChan  chan string
	closeOnce sync.Once

	linesRead    atomic.Int64
	linesDropped atomic.Int64
	linesParsed  atomic.Int64

	dropThreshold float64
}

// NewPipeline creates a pipeline for the named stream ("stdout").
// bufferSize < 1 uses DefaultBufferSize; dropThreshold <= 0 uses 1%.
func NewPipeline(stream string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}
	return &Pipeline{
		stream:        stream,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine queues line. Returns false if it was dropped because the channel
// is full. Never blocks.
func (p *Pipeline) FeedLine(line string) bool {
	p.linesRead.Add(1)

	select {
	case p.lineChan <- line:
		return true
	default:
		p.linesDropped.Add(1)
		return false
	}
}

// CloseChannel signals the parser to stop once the queue is drained.
// The reader calls it on exit; safe to call multiple times.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// RunParser consumes lines until CloseChannel. Run it in its own goroutine.
func (p *Pipeline) RunParser(parser LineParser) {
	for line := range p.lineChan {
		parser.ParseLine(line)
		p.linesParsed.Add(1)
	}
}

// Stats returns lines read, dropped and parsed so far.
func (p *Pipeline) Stats() (read, dropped, parsed int64) {
	return p.linesRead.Load(), p.linesDropped.Load(), p.linesParsed.Load()
}

// DropRate is dropped/read, 0 when nothing was read.
func (p *Pipeline) DropRate() float64 {
	read := p.linesRead.Load()
	if read == 0 {
		return 0
	}
	return float64(p.linesDropped.Load()) / float64(read)
}

// IsDegraded returns true if the drop rate exceeds the threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// Stream returns the stream name.
func (p *Pipeline) Stream() string {
	return p.stream
}
