package channel

import (
	"sync"
	"sync/atomic"
)

type item struct {
	data []byte
	err  error
}

// mailbox is an unbounded FIFO queue.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []item
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) push(it item) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.items = append(m.items, it)
	m.cond.Signal()
	return true
}

func (m *mailbox) pop() (item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.items) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return item{}, false
	}
	it := m.items[0]
	m.items[0] = item{}
	m.items = m.items[1:]
	return it, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	m.cond.Broadcast()
}

// PipePort is one end of an in-memory pipe.
type PipePort struct {
	inbox      *mailbox
	peer       *PipePort
	closed     atomic.Bool
	listenOnce sync.Once
	done       chan struct{}
}

var (
	_ Port   = (*PipePort)(nil)
	_ Raiser = (*PipePort)(nil)
)

// Pipe returns two connected ports. Messages posted before the receiver
// listens are queued.
func Pipe() (*PipePort, *PipePort) {
	a := &PipePort{inbox: newMailbox(), done: make(chan struct{})}
	b := &PipePort{inbox: newMailbox(), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *PipePort) Post(data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	if !p.peer.inbox.push(item{data: buf}) {
		return ErrClosed
	}
	return nil
}

// Raise delivers err to the peer's error handler.
func (p *PipePort) Raise(err error) {
	if err == nil {
		return
	}
	p.peer.inbox.push(item{err: err})
}

func (p *PipePort) Listen(h Handler) {
	p.listenOnce.Do(func() {
		go p.deliver(h)
	})
}

func (p *PipePort) deliver(h Handler) {
	defer close(p.done)
	for {
		it, ok := p.inbox.pop()
		if !ok {
			return
		}
		if it.err != nil {
			h.error(it.err)
			continue
		}
		h.message(it.data)
	}
}

func (p *PipePort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.inbox.close()
	return nil
}

// Closed reports whether Close has been called.
func (p *PipePort) Closed() bool {
	return p.closed.Load()
}
