// Package pseudoslice implements the virtual header+body concatenation used
// to stage an HTTP response for chunked transmission without copying the
// body into the header buffer up front.
package pseudoslice

// Pseudoslice is a virtual sequence formed by logically prepending a header
// buffer to a body buffer, backed by a shared scratch region used to stage
// concatenated fragments on demand.
type Pseudoslice struct {
	header  []byte
	body    []byte
	scratch []byte
}

// New constructs a Pseudoslice over header and body, using scratch as the
// shared staging region for ranges that straddle the header/body boundary.
// scratch must be at least as large as the largest Get() window the caller
// will request; the caller (ResponseDispatcher) sizes it to the socket
// buffer.
func New(header, body, scratch []byte) *Pseudoslice {
	return &Pseudoslice{header: header, body: body, scratch: scratch}
}

// Len returns header_len + body_len.
func (p *Pseudoslice) Len() int {
	return len(p.header) + len(p.body)
}

// Get returns a contiguous view of [start, min(end, Len())) bytes. The
// returned slice aliases p.header or p.body directly when the requested
// range lies entirely within one side (O(1)); it copies into the scratch
// region only when the range straddles the boundary (O(end-start)).
func (p *Pseudoslice) Get(start, end int) []byte {
	total := p.Len()
	if end > total {
		end = total
	}
	if start < 0 {
		start = 0
	}
	if start >= end {
		return nil
	}

	hlen := len(p.header)

	switch {
	case end <= hlen:
		// Entirely within the header.
		return p.header[start:end]
	case start >= hlen:
		// Entirely within the body.
		bs, be := start-hlen, end-hlen
		return p.body[bs:be]
	default:
		// Straddles the boundary: stage into scratch.
		need := end - start
		if cap(p.scratch) < need {
			p.scratch = make([]byte, need)
		}
		buf := p.scratch[:need]
		hn := copy(buf, p.header[start:hlen])
		copy(buf[hn:], p.body[:end-hlen])
		return buf
	}
}
