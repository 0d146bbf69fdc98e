package remote

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

const keepAlivePeriod = 45 * time.Second

// conn is one framed connection. It is owned by a single goroutine at a time.
type conn struct {
	addr   string
	nc     net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	cfg    *Config
	broken bool
}

func newConn(nc net.Conn, cfg *Config) *conn {
	rb, wb := cfg.ReadBufSize, cfg.WriteBufSize
	if rb <= 0 {
		rb = 32 << 10
	}
	if wb <= 0 {
		wb = 32 << 10
	}
	return &conn{
		addr: nc.RemoteAddr().String(),
		nc:   nc,
		r:    bufio.NewReaderSize(nc, rb),
		w:    bufio.NewWriterSize(nc, wb),
		cfg:  cfg,
	}
}

func tuneTCP(nc net.Conn) {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepAlivePeriod)
	}
}

// dial opens a TCP or TLS connection to addr.
func dial(ctx context.Context, addr string, cfg *Config, tlsConf *tls.Config) (*conn, error) {
	d := &net.Dialer{Timeout: cfg.ReadTimeout, KeepAlive: keepAlivePeriod}
	var (
		nc  net.Conn
		err error
	)
	if tlsConf != nil {
		td := &tls.Dialer{NetDialer: d, Config: tlsConf}
		nc, err = td.DialContext(ctx, "tcp", addr)
	} else {
		nc, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			tuneTCP(nc)
		}
	}
	if err != nil {
		return nil, err
	}
	c := newConn(nc, cfg)
	c.addr = addr
	return c, nil
}

func (c *conn) close() error { return c.nc.Close() }

// readFrame returns a pooled body; release it with frames.put.
func (c *conn) readFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(hdr[:]))
	if c.cfg.MaxFrameSize > 0 && n > c.cfg.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if c.cfg.ReadTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	buf := frames.get(n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		frames.put(buf)
		return nil, err
	}
	return buf, nil
}

func (c *conn) writeFrame(body []byte) error {
	if c.cfg.WriteTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(body); err != nil {
		return err
	}
	return c.w.Flush()
}

func request(cmd Cmd) *encoder {
	e := &encoder{b: make([]byte, 1, 64)}
	e.b[0] = byte(cmd)
	return e
}

// call sends one request and hands the response payload to decode. I/O
// failures mark the connection broken and come back as TransportError.
func (c *conn) call(ctx context.Context, req *encoder, decode func(*decoder) error) error {
	cmd := Cmd(req.b[0])
	fail := func(err error) error {
		c.broken = true
		return &TransportError{Op: cmd.String(), Addr: c.addr, Err: err}
	}

	deadline := time.Time{}
	if c.cfg.ReadTimeout > 0 {
		deadline = time.Now().Add(c.cfg.ReadTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.writeFrame(req.b); err != nil {
		return fail(err)
	}
	_ = c.nc.SetReadDeadline(deadline)
	body, err := c.readFrame()
	if err != nil {
		return fail(err)
	}
	defer frames.put(body)

	if len(body) == 0 {
		return fail(fmt.Errorf("empty response"))
	}
	d := &decoder{b: body[1:]}
	if body[0] != statusOK {
		msg := d.str()
		if d.err != nil {
			return fail(d.err)
		}
		return &RemoteError{Cmd: cmd, Msg: msg}
	}
	if decode != nil {
		if err := decode(d); err != nil {
			return err
		}
	}
	if err := d.done(); err != nil {
		return fail(err)
	}
	return nil
}
