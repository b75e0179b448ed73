// Package dispatcher renders a finalized Provision response into headers,
// builds the Pseudoslice, and arms the first send window, pre-encrypting
// it when the connection carries a TLS session.
package dispatcher

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/WhileEndless/go-rawserver/pkg/provision"
	"github.com/WhileEndless/go-rawserver/pkg/pseudoslice"
	"github.com/WhileEndless/go-rawserver/pkg/tlsengine"
)

// Dispatch finalizes p.Response into a send job and returns the first
// window of bytes the caller should arm a send with — plaintext when
// engine is nil, ciphertext otherwise. p.Response is cleared for reuse
// before returning.
func Dispatch(p *provision.Provision, socketBufferSize int, engine *tlsengine.Engine) ([]byte, error) {
	headerBuf := renderHeaders(p)
	body := p.Response.Body
	p.Response.Reset()

	slice := pseudoslice.New(headerBuf, body, p.Buffer)

	send := provision.SendJob{Slice: slice, After: provision.AfterRecv}

	firstLen := min(socketBufferSize, slice.Len())
	plainWindow := slice.Get(0, firstLen)

	if engine == nil {
		send.Security = provision.SecurityPlain
		p.Job = provision.Job{Kind: provision.JobSend, Send: send}
		return plainWindow, nil
	}

	enc, err := engine.EncryptChunk(plainWindow)
	if err != nil {
		return nil, err
	}
	send.Security = provision.SecurityTLS
	send.Count = len(plainWindow)
	send.Encrypted = enc
	send.EncryptedCount = 0
	p.Job = provision.Job{Kind: provision.JobSend, Send: send}
	return enc, nil
}

// renderHeaders writes the status line, response headers, and a
// Content-Length computed from the response body into an arena-allocated
// buffer. Content-Length is always derived from the body rather than
// trusted from a handler-set header, since this engine never sends
// chunked responses: every response is exactly one headers+body slice.
func renderHeaders(p *provision.Provision) []byte {
	statusName := p.Response.StatusName
	if statusName == "" {
		statusName = http.StatusText(p.Response.StatusCode)
	}
	if statusName == "" {
		statusName = "Unknown"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", p.Response.StatusCode, statusName)
	for _, h := range p.Response.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Key, h.Value)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(p.Response.Body))
	b.WriteString("\r\n")

	return p.Arena.AllocCopy(b.Bytes())
}
