package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/partdiff"
)

// Server exposes a partdiff.Cluster over the wire protocol. Each connection
// is served by its own goroutine and owns at most one cursor.
type Server struct {
	cluster partdiff.Cluster
	cfg     Config
	tlsConf *tls.Config
	log     *zap.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cluster partdiff.Cluster, cfg Config, logger *zap.Logger) (*Server, error) {
	tc, err := cfg.TLS.serverTLS()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cluster: cluster,
		cfg:     cfg,
		tlsConf: tc,
		log:     logger,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections until Close. Accept errors are logged and the
// loop keeps going.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("serving", zap.Stringer("addr", ln.Addr()), zap.Bool("tls", s.tlsConf != nil))

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			delay = min(max(2*delay, 5*time.Millisecond), time.Second)
			s.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0
		tuneTCP(nc)
		if !s.track(nc) {
			_ = nc.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

// Addr is the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[nc] = struct{}{}
	return true
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	delete(s.conns, nc)
	s.mu.Unlock()
}

// Close stops accepting, drops every connection and waits for their
// goroutines. Open cursors are closed.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for nc := range s.conns {
		_ = nc.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// session is the per-connection state.
type session struct {
	srv     *Server
	ctx     context.Context
	cursor  partdiff.RecordStream
	payload partdiff.Payload
	item    partdiff.StreamItem
	valid   bool
	hash    partdiff.HashOptions
	log     *zap.Logger
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()
	defer s.untrack(nc)
	defer nc.Close()

	log := s.log.With(zap.Stringer("peer", nc.RemoteAddr()))
	if s.tlsConf != nil {
		tc := tls.Server(nc, s.tlsConf)
		if rt := s.cfg.ReadTimeout; rt > 0 {
			_ = tc.SetDeadline(time.Now().Add(rt))
		}
		if err := tc.Handshake(); err != nil {
			log.Warn("tls handshake failed", zap.Error(err))
			return
		}
		_ = tc.SetDeadline(time.Time{})
		nc = tc
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{srv: s, ctx: ctx, log: log}
	defer func() {
		sess.closeCursor()
		cancel()
	}()

	c := newConn(nc, &s.cfg)
	for {
		if idle := s.cfg.IdleTimeout; idle > 0 {
			_ = nc.SetReadDeadline(time.Now().Add(idle))
		} else {
			_ = nc.SetReadDeadline(time.Time{})
		}
		body, err := c.readFrame()
		if err != nil {
			if !isFatalTransport(err) || errors.Is(err, ErrFrameTooLarge) {
				log.Warn("dropping connection", zap.Error(err))
			}
			return
		}
		if len(body) == 0 {
			frames.put(body)
			log.Warn("dropping connection", zap.String("reason", "empty frame"))
			return
		}
		cmd := Cmd(body[0])
		resp, quit := sess.handle(cmd, &decoder{b: body[1:]})
		frames.put(body)
		if err := c.writeFrame(resp.b); err != nil {
			log.Debug("write failed", zap.Stringer("cmd", cmd), zap.Error(err))
			return
		}
		if quit {
			return
		}
	}
}

func okResponse() *encoder {
	return &encoder{b: []byte{statusOK}}
}

func errResponse(err error) *encoder {
	e := &encoder{b: []byte{statusError}}
	e.str(err.Error())
	return e
}

// handle executes one command. Errors are reported to the client; quit is
// set after CLOSE.
func (ss *session) handle(cmd Cmd, d *decoder) (resp *encoder, quit bool) {
	resp = okResponse()
	err := ss.dispatch(cmd, d, resp)
	if err == nil {
		err = d.done()
	}
	if err != nil {
		ss.log.Debug("command failed", zap.Stringer("cmd", cmd), zap.Error(err))
		return errResponse(err), false
	}
	return resp, cmd == CmdClose
}

func (ss *session) dispatch(cmd Cmd, d *decoder, out *encoder) error {
	cl := ss.srv.cluster
	ctx := ss.ctx
	switch cmd {
	case CmdClose:
		return nil

	case CmdGet:
		key := d.key()
		if d.err != nil {
			return d.err
		}
		rec, err := cl.Get(ctx, key)
		if err != nil {
			return err
		}
		return out.record(rec)

	case CmdExists:
		key := d.key()
		if d.err != nil {
			return d.err
		}
		ok, err := cl.Exists(ctx, key)
		if err != nil {
			return err
		}
		out.boolean(ok)

	case CmdTouch:
		key := d.key()
		if d.err != nil {
			return d.err
		}
		err := cl.Touch(ctx, key)
		if err != nil && !errors.Is(err, partdiff.ErrRecordNotFound) {
			return err
		}
		out.boolean(err == nil)

	case CmdInfoOneNode:
		command, node := d.str(), d.str()
		if d.err != nil {
			return d.err
		}
		text, err := cl.Info(ctx, command, node)
		if err != nil {
			return err
		}
		out.str(text)

	case CmdInfoAllNodes:
		command := d.str()
		if d.err != nil {
			return d.err
		}
		replies, err := cl.InfoAll(ctx, command)
		if err != nil {
			return err
		}
		out.u32(uint32(len(replies)))
		for node, text := range replies {
			out.str(node)
			out.str(text)
		}

	case CmdNodeNames:
		names, err := cl.NodeNames(ctx)
		if err != nil {
			return err
		}
		out.u32(uint32(len(names)))
		for _, n := range names {
			out.str(n)
		}

	case CmdConfig:
		h := d.hashOptions()
		if d.err != nil {
			return d.err
		}
		ss.hash = h

	case CmdQueryPartition:
		q := d.query()
		if d.err != nil {
			return d.err
		}
		ss.closeCursor()
		q.Hash = ss.hash
		st, err := cl.QueryPartition(ctx, q)
		if err != nil {
			return err
		}
		ss.cursor, ss.payload = st, q.Payload

	case CmdCursorNext:
		if ss.cursor == nil {
			return ErrNoCursor
		}
		more, err := ss.advance()
		if err != nil {
			return err
		}
		out.boolean(more)

	case CmdCursorKey, CmdCursorRecord, CmdCursorRecordHash:
		if !ss.valid {
			return ErrNoCursor
		}
		out.key(ss.item.Key)
		switch cmd {
		case CmdCursorRecord:
			if ss.payload != partdiff.PayloadRecord {
				return fmt.Errorf("cursor was opened for %s payloads", ss.payload)
			}
			return out.record(ss.item.Record)
		case CmdCursorRecordHash:
			h, err := ss.itemHash()
			if err != nil {
				return err
			}
			out.u64(h)
		}

	case CmdCursorMulti, CmdCursorMultiHash:
		n := int(d.u32())
		if d.err != nil {
			return d.err
		}
		if ss.cursor == nil {
			return ErrNoCursor
		}
		for i := 0; i < n; i++ {
			more, err := ss.advance()
			if err != nil {
				return err
			}
			if !more {
				break
			}
			out.boolean(true)
			out.key(ss.item.Key)
			if cmd == CmdCursorMultiHash {
				h, err := ss.itemHash()
				if err != nil {
					return err
				}
				out.u64(h)
			} else if err := out.record(ss.item.Record); err != nil {
				return err
			}
		}
		out.boolean(false)

	case CmdCursorClose:
		ss.closeCursor()

	default:
		return fmt.Errorf("%w: unknown command %s", partdiff.ErrProtocol, cmd)
	}
	return nil
}

func (ss *session) advance() (bool, error) {
	if !ss.cursor.Next() {
		ss.valid = false
		return false, ss.cursor.Err()
	}
	ss.item = ss.cursor.Item()
	ss.valid = true
	return true, nil
}

func (ss *session) itemHash() (uint64, error) {
	switch ss.payload {
	case partdiff.PayloadHash:
		return ss.item.Hash, nil
	case partdiff.PayloadRecord:
		return partdiff.HashRecord(ss.item.Record, ss.hash), nil
	}
	return 0, fmt.Errorf("cursor was opened for %s payloads", ss.payload)
}

func (ss *session) closeCursor() {
	if ss.cursor == nil {
		return
	}
	if err := ss.cursor.Close(); err != nil {
		ss.log.Warn("closing cursor", zap.Error(err))
	}
	ss.cursor = nil
	ss.valid = false
}
