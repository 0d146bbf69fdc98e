package remote

import (
	"context"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/partdiff"
)

// readAhead is a stream whose cursor is drained by a background actor in
// MULTI batches of the queue capacity. The consumer asks for a refill once
// the queue is down to half; Close stops the actor and waits until the
// remote cursor has been released.
type readAhead struct {
	queue chan partdiff.StreamItem
	fill  chan struct{}
	stop  chan struct{}
	done  chan struct{}

	// err is written by the actor before it closes queue.
	err  error
	item partdiff.StreamItem

	ended  bool
	closed bool
}

func newReadAhead(ctx context.Context, pool *Pool, cn *conn, payload partdiff.Payload, capacity int, log *zap.Logger) *readAhead {
	ra := &readAhead{
		queue: make(chan partdiff.StreamItem, capacity),
		fill:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	a := &filler{ra: ra, ctx: ctx, pool: pool, cn: cn, payload: payload, batch: capacity, log: log}
	go a.run()
	return ra
}

func (ra *readAhead) Next() bool {
	if ra.ended {
		return false
	}
	it, ok := <-ra.queue
	if !ok {
		ra.ended = true
		return false
	}
	ra.item = it
	if len(ra.queue) <= cap(ra.queue)/2 {
		select {
		case ra.fill <- struct{}{}:
		default:
		}
	}
	return true
}

func (ra *readAhead) Item() partdiff.StreamItem { return ra.item }

// Err is only meaningful once Next returned false.
func (ra *readAhead) Err() error {
	if !ra.ended {
		return nil
	}
	return ra.err
}

func (ra *readAhead) Close() error {
	if ra.closed {
		return nil
	}
	ra.closed = true
	close(ra.stop)
	<-ra.done
	return nil
}

// filler is the actor side of readAhead. It owns the connection.
type filler struct {
	ra      *readAhead
	ctx     context.Context
	pool    *Pool
	cn      *conn
	payload partdiff.Payload
	batch   int
	log     *zap.Logger
}

func (f *filler) run() {
	defer close(f.ra.done)
	defer f.release()
	defer close(f.ra.queue)

	for {
		items, err := f.fetch()
		if err != nil {
			f.ra.err = err
			return
		}
		for _, it := range items {
			select {
			case f.ra.queue <- it:
			case <-f.ra.stop:
				return
			}
		}
		if len(items) < f.batch {
			return
		}
		select {
		case <-f.ra.fill:
		case <-f.ra.stop:
			return
		}
	}
}

func (f *filler) fetch() ([]partdiff.StreamItem, error) {
	cmd := CmdCursorMulti
	if f.payload == partdiff.PayloadHash {
		cmd = CmdCursorMultiHash
	}
	req := request(cmd)
	req.u32(uint32(f.batch))

	items := make([]partdiff.StreamItem, 0, f.batch)
	err := f.cn.call(f.ctx, req, func(d *decoder) error {
		for d.err == nil && d.boolean() {
			it := partdiff.StreamItem{Key: d.key()}
			if cmd == CmdCursorMultiHash {
				it.Hash = d.u64()
			} else {
				it.Record = d.record(it.Key)
			}
			items = append(items, it)
		}
		return d.err
	})
	return items, err
}

// release closes the remote cursor and hands the connection back. A broken
// connection is discarded, which drops the cursor on the server as well.
func (f *filler) release() {
	if f.cn.broken {
		f.pool.discard(f.cn)
		return
	}
	if err := f.cn.call(context.Background(), request(CmdCursorClose), nil); err != nil {
		f.log.Debug("cursor close failed", zap.Error(err))
	}
	f.pool.put(f.cn)
}
