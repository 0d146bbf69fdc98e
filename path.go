package partdiff

import (
	"encoding/binary"
	"strings"
)

// Path is the traversal position inside a record, root first: namespace,
// set, bin, then nested map keys and list indexes. It is a stack that the
// comparer pushes before descending and pops after.
//
// Segments are rendered for display; map keys of different kinds may render
// alike, so each segment also carries an exact encoding used for identity.
type Path struct {
	segs []string
	enc  []string
}

func NewPath(segs ...string) *Path {
	p := &Path{
		segs: make([]string, 0, len(segs)+8),
		enc:  make([]string, 0, len(segs)+8),
	}
	for _, s := range segs {
		p.Push(s)
	}
	return p
}

const (
	segName = 'n'
	segKey  = 'k'
)

// Push appends a bin name or list index.
func (p *Path) Push(seg string) {
	p.segs = append(p.segs, seg)
	p.enc = append(p.enc, string(segName)+seg)
}

// PushKey appends a map key.
func (p *Path) PushKey(k Value) {
	p.segs = append(p.segs, k.String())
	p.enc = append(p.enc, string(appendCanonical([]byte{segKey}, k)))
}

func (p *Path) Pop() {
	if len(p.segs) > 0 {
		p.segs = p.segs[:len(p.segs)-1]
		p.enc = p.enc[:len(p.enc)-1]
	}
}

func (p *Path) Len() int { return len(p.segs) }

// Segments returns a copy of the current segments.
func (p *Path) Segments() []string {
	return append([]string(nil), p.segs...)
}

// view returns the live segments; callers must not retain them.
func (p *Path) view() []string { return p.segs }

// id is an exact encoding of the path: length-prefixed segment encodings.
func (p *Path) id() string {
	return joinIDs(p.enc)
}

func (p *Path) String() string { return JoinPath(p.segs) }

// pathID encodes plain segments the way Push does.
func pathID(segs []string) string {
	enc := make([]string, len(segs))
	for i, s := range segs {
		enc[i] = string(segName) + s
	}
	return joinIDs(enc)
}

func joinIDs(enc []string) string {
	var b []byte
	for _, e := range enc {
		b = binary.AppendUvarint(b, uint64(len(e)))
		b = append(b, e...)
	}
	return string(b)
}

// JoinPath renders segments as "/a/b/c".
func JoinPath(segs []string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}
