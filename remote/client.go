package remote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/partdiff"
)

// Client is a partdiff.Cluster reached through a Server.
type Client struct {
	pool *Pool
	cfg  Config
	log  *zap.Logger
}

var _ partdiff.Cluster = (*Client)(nil)

// NewClient prepares a client for the server at addr. Connections are dialed
// on first use.
func NewClient(addr string, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := NewPool(addr, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Client{pool: pool, cfg: cfg, log: logger.With(zap.String("remote", addr))}, nil
}

// Pool exposes the connection pool.
func (c *Client) Pool() *Pool { return c.pool }

func (c *Client) roundTrip(ctx context.Context, req *encoder, decode func(*decoder) error) error {
	cn, err := c.pool.get(ctx)
	if err != nil {
		return err
	}
	err = cn.call(ctx, req, decode)
	c.pool.put(cn)
	return err
}

func (c *Client) Get(ctx context.Context, key partdiff.Key) (*partdiff.Record, error) {
	req := request(CmdGet)
	req.key(key)
	var rec *partdiff.Record
	err := c.roundTrip(ctx, req, func(d *decoder) error {
		rec = d.record(key)
		return d.err
	})
	return rec, err
}

func (c *Client) Exists(ctx context.Context, key partdiff.Key) (bool, error) {
	req := request(CmdExists)
	req.key(key)
	var ok bool
	err := c.roundTrip(ctx, req, func(d *decoder) error {
		ok = d.boolean()
		return d.err
	})
	return ok, err
}

// Touch maps a server-side "not found" answer back to ErrRecordNotFound.
func (c *Client) Touch(ctx context.Context, key partdiff.Key) error {
	req := request(CmdTouch)
	req.key(key)
	var found bool
	if err := c.roundTrip(ctx, req, func(d *decoder) error {
		found = d.boolean()
		return d.err
	}); err != nil {
		return err
	}
	if !found {
		return partdiff.ErrRecordNotFound
	}
	return nil
}

func (c *Client) Info(ctx context.Context, command, node string) (string, error) {
	req := request(CmdInfoOneNode)
	req.str(command)
	req.str(node)
	var text string
	err := c.roundTrip(ctx, req, func(d *decoder) error {
		text = d.str()
		return d.err
	})
	return text, err
}

func (c *Client) InfoAll(ctx context.Context, command string) (map[string]string, error) {
	req := request(CmdInfoAllNodes)
	req.str(command)
	var out map[string]string
	err := c.roundTrip(ctx, req, func(d *decoder) error {
		n := d.length()
		out = make(map[string]string, n)
		for i := 0; i < n && d.err == nil; i++ {
			node := d.str()
			out[node] = d.str()
		}
		return d.err
	})
	return out, err
}

func (c *Client) NodeNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.roundTrip(ctx, request(CmdNodeNames), func(d *decoder) error {
		n := d.length()
		for i := 0; i < n && d.err == nil; i++ {
			names = append(names, d.str())
		}
		return d.err
	})
	return names, err
}

// QueryPartition opens a server-side cursor. The stream keeps its connection
// until it is closed.
func (c *Client) QueryPartition(ctx context.Context, q partdiff.PartitionQuery) (partdiff.RecordStream, error) {
	if err := partdiff.ValidatePartition(q.Partition); err != nil {
		return nil, err
	}
	cn, err := c.pool.get(ctx)
	if err != nil {
		return nil, err
	}
	if q.Payload == partdiff.PayloadHash {
		cfg := request(CmdConfig)
		cfg.hashOptions(q.Hash)
		if err := cn.call(ctx, cfg, nil); err != nil {
			c.pool.put(cn)
			return nil, err
		}
	}
	req := request(CmdQueryPartition)
	req.query(q)
	if err := cn.call(ctx, req, nil); err != nil {
		c.pool.put(cn)
		return nil, fmt.Errorf("query partition %d: %w", q.Partition, err)
	}
	if c.cfg.ReadAhead > 0 {
		return newReadAhead(ctx, c.pool, cn, q.Payload, c.cfg.ReadAhead, c.log), nil
	}
	return &cursorStream{ctx: ctx, pool: c.pool, cn: cn, payload: q.Payload}, nil
}

// Close closes the pool.
func (c *Client) Close() error {
	return c.pool.Close()
}

// cursorStream fetches one record per round trip.
type cursorStream struct {
	ctx     context.Context
	pool    *Pool
	cn      *conn
	payload partdiff.Payload
	item    partdiff.StreamItem
	err     error
	done    bool
}

func (s *cursorStream) Next() bool {
	if s.done || s.err != nil || s.cn == nil {
		return false
	}
	var more bool
	if s.err = s.cn.call(s.ctx, request(CmdCursorNext), func(d *decoder) error {
		more = d.boolean()
		return d.err
	}); s.err != nil {
		return false
	}
	if !more {
		s.done = true
		return false
	}

	var req *encoder
	switch s.payload {
	case partdiff.PayloadRecord:
		req = request(CmdCursorRecord)
	case partdiff.PayloadHash:
		req = request(CmdCursorRecordHash)
	default:
		req = request(CmdCursorKey)
	}
	s.err = s.cn.call(s.ctx, req, func(d *decoder) error {
		s.item = decodeItem(d, s.payload)
		return d.err
	})
	return s.err == nil
}

func (s *cursorStream) Item() partdiff.StreamItem { return s.item }
func (s *cursorStream) Err() error                { return s.err }

// Close releases the server-side cursor and returns the connection.
func (s *cursorStream) Close() error {
	if s.cn == nil {
		return nil
	}
	cn := s.cn
	s.cn = nil
	if cn.broken {
		s.pool.discard(cn)
		return nil
	}
	err := cn.call(context.Background(), request(CmdCursorClose), nil)
	s.pool.put(cn)
	return err
}

// decodeItem reads a key followed by the payload of the given kind.
func decodeItem(d *decoder, payload partdiff.Payload) partdiff.StreamItem {
	it := partdiff.StreamItem{Key: d.key()}
	switch payload {
	case partdiff.PayloadRecord:
		it.Record = d.record(it.Key)
	case partdiff.PayloadHash:
		it.Hash = d.u64()
	}
	return it
}
