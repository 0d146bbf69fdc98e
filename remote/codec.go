package remote

import (
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"

	"github.com/unkn0wn-root/partdiff"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		panic(err)
	}
	cborEnc, cborDec = em, dm
}

// wireValue is the CBOR shape of a partdiff.Value. The kind tag keeps blobs
// apart from strings and allows map keys of any kind.
type wireValue struct {
	K uint8       `cbor:"k"`
	B bool        `cbor:"b,omitempty"`
	I int64       `cbor:"i,omitempty"`
	F float64     `cbor:"f,omitempty"`
	S string      `cbor:"s,omitempty"`
	R []byte      `cbor:"r,omitempty"`
	L []wireValue `cbor:"l,omitempty"`
	M []wireEntry `cbor:"m,omitempty"`
}

type wireEntry struct {
	K wireValue `cbor:"k"`
	V wireValue `cbor:"v"`
}

func toWire(v partdiff.Value) wireValue {
	w := wireValue{K: uint8(v.Kind())}
	switch v.Kind() {
	case partdiff.KindNull:
	case partdiff.KindBool:
		w.B = v.AsBool()
	case partdiff.KindInt:
		w.I = v.AsInt()
	case partdiff.KindFloat:
		w.F = v.AsFloat()
	case partdiff.KindString:
		w.S = v.AsString()
	case partdiff.KindBytes:
		w.R = v.AsBytes()
	case partdiff.KindList:
		items := v.AsList()
		w.L = make([]wireValue, len(items))
		for i, it := range items {
			w.L[i] = toWire(it)
		}
	case partdiff.KindMap:
		es := v.AsMap()
		w.M = make([]wireEntry, len(es))
		for i, e := range es {
			w.M[i] = wireEntry{K: toWire(e.Key), V: toWire(e.Val)}
		}
	}
	return w
}

func fromWire(w wireValue) (partdiff.Value, error) {
	switch partdiff.Kind(w.K) {
	case partdiff.KindNull:
		return partdiff.Null(), nil
	case partdiff.KindBool:
		return partdiff.Bool(w.B), nil
	case partdiff.KindInt:
		return partdiff.Int(w.I), nil
	case partdiff.KindFloat:
		return partdiff.Float(w.F), nil
	case partdiff.KindString:
		return partdiff.String(w.S), nil
	case partdiff.KindBytes:
		if w.R == nil {
			return partdiff.Bytes([]byte{}), nil
		}
		return partdiff.Bytes(w.R), nil
	case partdiff.KindList:
		items := make([]partdiff.Value, len(w.L))
		for i, it := range w.L {
			v, err := fromWire(it)
			if err != nil {
				return partdiff.Value{}, err
			}
			items[i] = v
		}
		return partdiff.List(items...), nil
	case partdiff.KindMap:
		es := make([]partdiff.MapEntry, len(w.M))
		for i, e := range w.M {
			k, err := fromWire(e.K)
			if err != nil {
				return partdiff.Value{}, err
			}
			v, err := fromWire(e.V)
			if err != nil {
				return partdiff.Value{}, err
			}
			es[i] = partdiff.Entry(k, v)
		}
		return partdiff.Map(es...), nil
	}
	return partdiff.Value{}, fmt.Errorf("%w: value kind %d", partdiff.ErrProtocol, w.K)
}

func encodeBins(bins map[string]partdiff.Value) ([]byte, error) {
	m := make(map[string]wireValue, len(bins))
	for name, v := range bins {
		m[name] = toWire(v)
	}
	return cborEnc.Marshal(m)
}

func decodeBins(raw []byte) (map[string]partdiff.Value, error) {
	var m map[string]wireValue
	if err := cborDec.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: bins: %v", partdiff.ErrProtocol, err)
	}
	bins := make(map[string]partdiff.Value, len(m))
	for name, w := range m {
		v, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("bin %q: %w", name, err)
		}
		bins[name] = v
	}
	return bins, nil
}
