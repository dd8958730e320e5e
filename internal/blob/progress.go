package blob

import (
	"io"
	"sync/atomic"
)

// progressCounter tracks transferred bytes and forwards them to a ProgressFunc.
type progressCounter struct {
	total int64
	done  atomic.Int64
	fn    ProgressFunc
}

func newProgressCounter(total int64, fn ProgressFunc) *progressCounter {
	return &progressCounter{total: total, fn: fn}
}

func (p *progressCounter) add(n int) {
	if n <= 0 || p.fn == nil {
		return
	}
	p.fn(p.done.Add(int64(n)), p.total)
}

// Read lets the counter act as minio's Progress hook, which reads as many
// bytes from it as were uploaded.
func (p *progressCounter) Read(b []byte) (int, error) {
	p.add(len(b))
	return len(b), nil
}

// progressReader reports bytes as they are consumed from r.
type progressReader struct {
	r       io.Reader
	counter *progressCounter
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	pr.counter.add(n)
	return n, err
}

// progressReadSeeker keeps the body seekable so SDKs can rewind for signing
// and retries. Bytes re-read after a rewind are not reported twice.
type progressReadSeeker struct {
	rs      io.ReadSeeker
	counter *progressCounter
	offset  int64
	highest int64
}

func (p *progressReadSeeker) Read(b []byte) (int, error) {
	n, err := p.rs.Read(b)
	p.offset += int64(n)
	if p.offset > p.highest {
		p.counter.add(int(p.offset - p.highest))
		p.highest = p.offset
	}
	return n, err
}

func (p *progressReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.rs.Seek(offset, whence)
	if err == nil {
		p.offset = pos
	}
	return pos, err
}

var _ io.ReadSeeker = (*progressReadSeeker)(nil)

func withProgress(body io.Reader, counter *progressCounter) io.Reader {
	if counter.fn == nil {
		return body
	}
	if rs, ok := body.(io.ReadSeeker); ok {
		return &progressReadSeeker{rs: rs, counter: counter}
	}
	return &progressReader{r: body, counter: counter}
}
