package irr

import (
	"bufio"
	"context"
	"flag"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/irr-filter/internal/metrics"
	"github.com/DrC0ns0le/irr-filter/pkg/logging"
)

var (
	queryTimeout  = flag.Duration("irr.timeout", 30*time.Second, "Timeout for IRR queries")
	inflightLimit = flag.Int("irr.window", 128, "Maximum in-flight pipelined queries")
)

// ClientName is sent with the session preamble to identify this client
// to the registry operator.
const ClientName = "irr-filter-0.3"

// Response is the outcome of one query.
type Response struct {
	// Payload holds the concatenated data blocks of a successful reply.
	// Empty on success without data and on not-found.
	Payload []byte

	// Err classifies failure: nil on success, ErrNotFound for a D reply,
	// or a wrapped ErrProtocol/ErrKeyConflict/ErrTransport/ErrClosed.
	Err error
}

// Pending is the handle returned by Submit. It settles exactly once, in
// submission order relative to all other handles of the same client.
type Pending struct {
	Query Query

	done bool
	resp Response
}

// Client pipelines queries over one connection to an IRR server.
//
// Submitted queries are buffered and written in batches; responses are
// matched back to handles in strict FIFO order, which is the only
// correlation the protocol offers. The client is not safe for concurrent
// use: one resolution pass drives one client.
type Client struct {
	conn net.Conn
	bw   *bufio.Writer
	dec  Decoder

	// submitted but unsettled, oldest first
	pending []*Pending
	// accumulated data blocks of the reply currently being assembled
	payload []byte

	window  int
	timeout time.Duration

	err    error // terminal error, set once
	closed bool

	logger logging.Logger
}

// NewClient wraps an established connection. Most callers want Dial,
// which also performs the session preamble.
func NewClient(conn net.Conn, logger logging.Logger) *Client {
	return &Client{
		conn:    conn,
		bw:      bufio.NewWriter(conn),
		window:  *inflightLimit,
		timeout: *queryTimeout,
		logger:  logger,
	}
}

// Dial connects to an IRR server and performs the session preamble:
// keep-open, client identification and source selection. The context
// bounds connection establishment only.
func Dial(ctx context.Context, addr string, sources []string, logger logging.Logger) (*Client, error) {
	d := net.Dialer{Timeout: *queryTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "connect %s: %v", addr, err)
	}

	c := NewClient(conn, logger)

	// "!!" holds the connection open for multiple queries. It is the one
	// command the server does not answer, so it bypasses the FIFO.
	if _, err := c.bw.WriteString("!!\n"); err != nil {
		conn.Close()
		return nil, errors.Wrapf(ErrTransport, "session preamble: %v", err)
	}

	ident, err := c.Submit(Identify(ClientName))
	if err != nil {
		c.Close()
		return nil, err
	}
	var src *Pending
	if len(sources) > 0 {
		if src, err = c.Submit(SelectSources(sources)); err != nil {
			c.Close()
			return nil, err
		}
	}
	if resp := c.Collect(ident); resp.Err != nil {
		c.Close()
		return nil, errors.Wrap(resp.Err, "identify rejected")
	}
	if src != nil {
		if resp := c.Collect(src); resp.Err != nil {
			c.Close()
			return nil, errors.Wrap(resp.Err, "source selection rejected")
		}
	}
	return c, nil
}

// Window returns the in-flight query limit, the natural batch width for
// callers that interleave submission and collection.
func (c *Client) Window() int {
	return c.window
}

// Submit appends the query to the outgoing queue and returns its handle
// without waiting for the reply. When the in-flight window is full,
// Submit blocks until the oldest outstanding query settles.
func (c *Client) Submit(q Query) (*Pending, error) {
	if c.err != nil {
		return nil, c.err
	}
	for c.outstanding() >= c.window {
		if err := c.settleOldest(); err != nil {
			return nil, err
		}
	}
	if _, err := c.bw.Write(q.Encode()); err != nil {
		c.fail(errors.Wrapf(ErrTransport, "write: %v", err))
		return nil, c.err
	}
	p := &Pending{Query: q}
	c.pending = append(c.pending, p)
	metrics.QueriesSubmitted.Inc()
	return p, nil
}

// Collect returns the response for p, reading from the connection until
// p settles. Any earlier handles settle first, preserving FIFO order;
// their responses are retained until collected.
func (c *Client) Collect(p *Pending) Response {
	for !p.done {
		if err := c.settleOldest(); err != nil {
			// settleOldest fails every outstanding handle, p included.
			break
		}
	}
	return p.resp
}

// Close terminates the session. Outstanding queries settle with ErrClosed.
// The quit command is best-effort; each connection is an independent
// protocol session so an unclean close cannot corrupt a later one.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.err == nil {
		c.bw.Write(Query{Kind: QueryQuit}.Encode())
		c.bw.Flush()
		c.fail(ErrClosed)
	}
	return c.conn.Close()
}

// Hangup closes the transport without protocol niceties. It is the one
// method safe to call from another goroutine, used to abort a resolution
// on cancellation; blocked reads fail and every outstanding query settles
// with ErrClosed.
func (c *Client) Hangup() {
	c.conn.Close()
}

func (c *Client) outstanding() int {
	n := 0
	for _, p := range c.pending {
		if !p.done {
			n++
		}
	}
	return n
}

// fail settles every outstanding query with a single terminal error.
// Responses already delivered stand.
func (c *Client) fail(err error) {
	if c.err != nil {
		return
	}
	c.err = err
	for _, p := range c.pending {
		if !p.done {
			p.done = true
			p.resp = Response{Err: err}
		}
	}
	c.pending = nil
}

// settleOldest flushes queued writes and reads frames until the oldest
// unsettled query has its complete response.
func (c *Client) settleOldest() error {
	if c.err != nil {
		return c.err
	}
	head := c.oldest()
	if head == nil {
		return errors.Wrap(ErrProtocol, "no outstanding query")
	}
	if err := c.bw.Flush(); err != nil {
		c.fail(errors.Wrapf(ErrTransport, "flush: %v", err))
		return c.err
	}

	buf := make([]byte, 4096)
	for !head.done {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		n, err := c.conn.Read(buf)
		if n > 0 {
			frames, derr := c.dec.Feed(buf[:n])
			for _, f := range frames {
				c.deliver(f)
			}
			if derr != nil {
				c.fail(derr)
				return c.err
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe):
				// deliberate hangup, a cancellation not a transport fault
				c.fail(ErrClosed)
			case err == io.EOF && c.dec.Pending():
				c.fail(errors.Wrap(ErrTransport, "connection closed mid-reply"))
			case err == io.EOF:
				c.fail(errors.Wrap(ErrTransport, "connection closed with queries outstanding"))
			default:
				c.fail(errors.Wrapf(ErrTransport, "read: %v", err))
			}
			return c.err
		}
	}
	return nil
}

func (c *Client) oldest() *Pending {
	for _, p := range c.pending {
		if !p.done {
			return p
		}
	}
	return nil
}

// deliver folds one frame into the oldest unsettled query. A query's
// answer is a run of A blocks closed by C, or a bare D/E/F.
func (c *Client) deliver(f Frame) {
	head := c.oldest()
	if head == nil {
		c.fail(errors.Wrapf(ErrProtocol, "reply %q with no query outstanding", f.Status))
		return
	}
	switch f.Status {
	case 'A':
		c.payload = append(c.payload, f.Payload...)
	case 'C':
		c.settle(head, Response{Payload: c.payload})
	case 'D':
		c.settle(head, Response{Err: ErrNotFound})
	case 'E':
		c.settle(head, Response{Err: errors.Wrapf(ErrKeyConflict, "query %s", head.Query)})
	case 'F':
		c.settle(head, Response{Err: errors.Wrapf(ErrProtocol, "server error for %s: %s", head.Query, f.Payload)})
	}
}

func (c *Client) settle(p *Pending, resp Response) {
	p.done = true
	p.resp = resp
	c.payload = nil
	metrics.QueriesCompleted.Inc()

	// drop settled prefix of the queue
	i := 0
	for i < len(c.pending) && c.pending[i].done {
		i++
	}
	if i > 0 {
		c.pending = append([]*Pending(nil), c.pending[i:]...)
	}
}
