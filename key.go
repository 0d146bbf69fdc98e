package partdiff

import (
	"bytes"
	"encoding/hex"

	"go.uber.org/zap/zapcore"
)

// NumPartitions is the fixed number of hash ranges a namespace is split into.
const NumPartitions = 4096

// DigestSize is the digest length produced by the stores this module knows.
const DigestSize = 20

// Digest is the binary fingerprint of a record's set and user key.
type Digest []byte

func (d Digest) String() string { return hex.EncodeToString(d) }

// StreamOrder compares two digests in the order records arrive within one
// partition stream: descending unsigned byte order. It returns a negative
// number when a is emitted before b.
func StreamOrder(a, b Digest) int {
	return bytes.Compare(b, a)
}

// PartitionOf maps a digest onto its partition: the low 12 bits of the
// little-endian uint16 formed by the first two bytes.
func PartitionOf(d Digest) int {
	if len(d) < 2 {
		return 0
	}
	return int(uint16(d[0])|uint16(d[1])<<8) & (NumPartitions - 1)
}

// Key identifies a record. UserKey is only carried for display.
type Key struct {
	Namespace string
	Set       string
	Digest    Digest
	UserKey   *Value
}

func (k Key) String() string {
	s := k.Namespace + "/" + k.Set + "/" + k.Digest.String()
	if k.UserKey != nil {
		s += " (" + k.UserKey.String() + ")"
	}
	return s
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (k Key) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("namespace", k.Namespace)
	enc.AddString("set", k.Set)
	enc.AddString("digest", k.Digest.String())
	if k.UserKey != nil {
		enc.AddString("user_key", k.UserKey.String())
	}
	return nil
}
