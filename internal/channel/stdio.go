package channel

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// StdioPort frames one payload per line over a byte stream.
type StdioPort struct {
	r          *bufio.Reader
	w          io.Writer
	wmu        sync.Mutex
	closers    []io.Closer
	closed     atomic.Bool
	listenOnce sync.Once
	done       chan struct{}
}

var _ Port = (*StdioPort)(nil)

// NewStdioPort reads frames from r and writes frames to w. closers are
// closed by Close, typically the process pipes behind r and w.
func NewStdioPort(r io.Reader, w io.Writer, closers ...io.Closer) *StdioPort {
	return &StdioPort{
		r:       bufio.NewReader(r),
		w:       w,
		closers: closers,
		done:    make(chan struct{}),
	}
}

func (p *StdioPort) Post(data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		return ErrInvalidFrame
	}
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, '\n')

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := p.w.Write(frame); err != nil {
		return err
	}
	return nil
}

func (p *StdioPort) Listen(h Handler) {
	p.listenOnce.Do(func() {
		go p.read(h)
	})
}

// Done is closed when the read side ends, at EOF or after Close.
func (p *StdioPort) Done() <-chan struct{} {
	return p.done
}

func (p *StdioPort) read(h Handler) {
	defer close(p.done)
	for {
		line, err := p.r.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			if len(line) > MaxMessageSize+1 {
				h.error(ErrMessageTooLarge)
				continue
			}
			h.message(bytes.TrimRight(line, "\r\n"))
			continue
		}
		if err == nil {
			continue
		}
		if p.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return
		}
		h.error(err)
		return
	}
}

func (p *StdioPort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, c := range p.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
