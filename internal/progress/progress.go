// Package progress carries fractional progress from long-running pipeline
// stages to whoever is displaying it.
//
// Reporters receive values in [0,1]. Stages never compute absolute
// positions; the caller hands each stage a Sub reporter covering its share
// of the total.
package progress

import (
	"io"
	"sync"
)

// Reporter receives progress updates. Update must not block.
type Reporter interface {
	Update(fraction float64)
}

// Func adapts a plain function to Reporter.
type Func func(fraction float64)

func (f Func) Update(fraction float64) {
	f(fraction)
}

// Nop discards every update.
var Nop Reporter = Func(func(float64) {})

// OrNop returns r, or Nop when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop
	}
	return r
}

type subRange struct {
	parent Reporter
	lo, hi float64
}

// Sub maps a child's [0,1] progress onto [lo,hi] of parent.
func Sub(parent Reporter, lo, hi float64) Reporter {
	return &subRange{parent: OrNop(parent), lo: lo, hi: hi}
}

func (s *subRange) Update(fraction float64) {
	s.parent.Update(s.lo + clamp(fraction)*(s.hi-s.lo))
}

type monotonic struct {
	mu   sync.Mutex
	next Reporter
	last float64
	sent bool
}

// Monotonic clamps updates to [0,1] and drops any value lower than the
// previous one, so displays never move backwards.
func Monotonic(r Reporter) Reporter {
	return &monotonic{next: OrNop(r)}
}

func (m *monotonic) Update(fraction float64) {
	fraction = clamp(fraction)

	m.mu.Lock()
	if m.sent && fraction <= m.last {
		m.mu.Unlock()
		return
	}
	m.last, m.sent = fraction, true
	m.mu.Unlock()

	m.next.Update(fraction)
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Reader reports the share of total bytes read through it.
type Reader struct {
	r        io.Reader
	total    int64
	done     int64
	reporter Reporter
}

// NewReader wraps r. A non-positive total reports completion on EOF only.
func NewReader(r io.Reader, total int64, reporter Reporter) *Reader {
	return &Reader{r: r, total: total, reporter: OrNop(reporter)}
}

func (p *Reader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if p.total > 0 && n > 0 {
		p.reporter.Update(float64(p.done) / float64(p.total))
	}
	if err == io.EOF {
		p.reporter.Update(1)
	}
	return n, err
}

// Counter tracks bytes across several readers sharing one total, as when
// the files of a package are streamed one after another.
type Counter struct {
	mu       sync.Mutex
	total    int64
	done     int64
	reporter Reporter
}

func NewCounter(total int64, reporter Reporter) *Counter {
	return &Counter{total: total, reporter: OrNop(reporter)}
}

// Add records n more bytes.
func (c *Counter) Add(n int64) {
	c.mu.Lock()
	c.done += n
	done, total := c.done, c.total
	c.mu.Unlock()

	if total > 0 {
		c.reporter.Update(float64(done) / float64(total))
	}
}

// Wrap returns a reader that counts into c.
func (c *Counter) Wrap(r io.Reader) io.Reader {
	return counted{r: r, c: c}
}

type counted struct {
	r io.Reader
	c *Counter
}

func (cr counted) Read(b []byte) (int, error) {
	n, err := cr.r.Read(b)
	if n > 0 {
		cr.c.Add(int64(n))
	}
	return n, err
}
