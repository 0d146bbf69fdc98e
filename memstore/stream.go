package memstore

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/partdiff"
)

// sliceStream serves a partition snapshot.
type sliceStream struct {
	ctx     context.Context
	records []*partdiff.Record
	q       partdiff.PartitionQuery
	limiter *rate.Limiter
	pos     int
	cur     partdiff.StreamItem
	err     error
	closed  bool
}

func newSliceStream(ctx context.Context, records []*partdiff.Record, q partdiff.PartitionQuery) *sliceStream {
	st := &sliceStream{ctx: ctx, records: records, q: q}
	if q.RecordsPerSecond > 0 {
		st.limiter = rate.NewLimiter(rate.Limit(q.RecordsPerSecond), 1)
	}
	return st
}

func (st *sliceStream) Next() bool {
	if st.closed || st.err != nil || st.pos >= len(st.records) {
		return false
	}
	if st.limiter != nil {
		if err := st.limiter.Wait(st.ctx); err != nil {
			st.err = err
			return false
		}
	} else if err := st.ctx.Err(); err != nil {
		st.err = err
		return false
	}

	r := st.records[st.pos]
	st.pos++
	st.cur = partdiff.StreamItem{Key: r.Key}
	switch st.q.Payload {
	case partdiff.PayloadRecord:
		st.cur.Record = r
	case partdiff.PayloadHash:
		st.cur.Hash = partdiff.HashRecord(r, st.q.Hash)
	}
	return true
}

func (st *sliceStream) Item() partdiff.StreamItem { return st.cur }

func (st *sliceStream) Err() error { return st.err }

func (st *sliceStream) Close() error {
	st.closed = true
	st.records = nil
	return nil
}
