package clock

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes c as a length-prefixed binary encoding:
// a varint entry count, then per entry (vnode_id as two varints, its max
// counter, a varint value count and each value as a dot counter varint
// plus a length-prefixed opaque blob with a tombstone flag byte),
// followed by a varint anonymous-value count and their entries in the
// same value encoding. Values stay opaque []byte to the core.
func Encode(c Clock) []byte {
	buf := make([]byte, 0, 64)
	buf = appendUvarint(buf, uint64(len(c.entries)))

	for vid, e := range c.entries {
		buf = appendUvarint(buf, uint64(vid.Partition))
		buf = appendUvarint(buf, uint64(vid.Epoch))
		buf = appendUvarint(buf, e.MaxCounter)
		buf = appendUvarint(buf, uint64(len(e.Values)))
		for _, v := range e.Values {
			buf = appendUvarint(buf, v.Counter)
			buf = appendValue(buf, v.Value, v.Tombstone)
		}
	}

	buf = appendUvarint(buf, uint64(len(c.anonymous)))
	for _, v := range c.anonymous {
		buf = appendValue(buf, v.Value, v.Tombstone)
	}
	return buf
}

// Decode parses the wire form produced by Encode.
func Decode(b []byte) (Clock, error) {
	r := &reader{buf: b}

	numEntries, err := r.uvarint()
	if err != nil {
		return Clock{}, fmt.Errorf("clock: entry count: %w", err)
	}

	var out Clock
	if numEntries > 0 {
		out.entries = make(map[VnodeID]entry, numEntries)
	}

	for i := uint64(0); i < numEntries; i++ {
		partition, err := r.uvarint()
		if err != nil {
			return Clock{}, fmt.Errorf("clock: partition: %w", err)
		}
		epoch, err := r.uvarint()
		if err != nil {
			return Clock{}, fmt.Errorf("clock: epoch: %w", err)
		}
		maxCounter, err := r.uvarint()
		if err != nil {
			return Clock{}, fmt.Errorf("clock: max counter: %w", err)
		}
		numValues, err := r.uvarint()
		if err != nil {
			return Clock{}, fmt.Errorf("clock: value count: %w", err)
		}

		e := entry{MaxCounter: maxCounter}
		for j := uint64(0); j < numValues; j++ {
			counter, err := r.uvarint()
			if err != nil {
				return Clock{}, fmt.Errorf("clock: dot counter: %w", err)
			}
			value, tombstone, err := r.value()
			if err != nil {
				return Clock{}, fmt.Errorf("clock: value: %w", err)
			}
			e.Values = append(e.Values, dottedValue{Counter: counter, Value: value, Tombstone: tombstone})
		}

		vid := VnodeID{Partition: uint32(partition), Epoch: uint32(epoch)}
		out.entries[vid] = e
	}

	numAnon, err := r.uvarint()
	if err != nil {
		return Clock{}, fmt.Errorf("clock: anonymous count: %w", err)
	}
	for i := uint64(0); i < numAnon; i++ {
		value, tombstone, err := r.value()
		if err != nil {
			return Clock{}, fmt.Errorf("clock: anonymous value: %w", err)
		}
		out.anonymous = append(out.anonymous, anonValue{Value: value, Tombstone: tombstone})
	}

	return out, nil
}

// EncodeContext serializes a context as the opaque token clients echo
// back on writes: a varint entry count, then (partition, epoch, counter)
// varint triples.
func EncodeContext(ctx Context) []byte {
	buf := make([]byte, 0, 16)
	buf = appendUvarint(buf, uint64(len(ctx)))
	for vid, counter := range ctx {
		buf = appendUvarint(buf, uint64(vid.Partition))
		buf = appendUvarint(buf, uint64(vid.Epoch))
		buf = appendUvarint(buf, counter)
	}
	return buf
}

// DecodeContext parses the wire form produced by EncodeContext. An empty
// or nil input decodes to an empty (non-causal) context.
func DecodeContext(b []byte) (Context, error) {
	if len(b) == 0 {
		return Context{}, nil
	}
	r := &reader{buf: b}
	n, err := r.uvarint()
	if err != nil {
		return nil, fmt.Errorf("context: entry count: %w", err)
	}
	ctx := make(Context, n)
	for i := uint64(0); i < n; i++ {
		partition, err := r.uvarint()
		if err != nil {
			return nil, fmt.Errorf("context: partition: %w", err)
		}
		epoch, err := r.uvarint()
		if err != nil {
			return nil, fmt.Errorf("context: epoch: %w", err)
		}
		counter, err := r.uvarint()
		if err != nil {
			return nil, fmt.Errorf("context: counter: %w", err)
		}
		ctx[VnodeID{Partition: uint32(partition), Epoch: uint32(epoch)}] = counter
	}
	return ctx, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendValue(buf []byte, value []byte, tombstone bool) []byte {
	var flag byte
	if tombstone {
		flag = 1
	}
	buf = append(buf, flag)
	buf = appendUvarint(buf, uint64(len(value)))
	return append(buf, value...)
}

type reader struct {
	buf []byte
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		return 0, fmt.Errorf("truncated or invalid varint")
	}
	r.buf = r.buf[n:]
	return v, nil
}

func (r *reader) value() ([]byte, bool, error) {
	if len(r.buf) < 1 {
		return nil, false, fmt.Errorf("truncated tombstone flag")
	}
	tombstone := r.buf[0] == 1
	r.buf = r.buf[1:]

	length, err := r.uvarint()
	if err != nil {
		return nil, false, fmt.Errorf("value length: %w", err)
	}
	if uint64(len(r.buf)) < length {
		return nil, false, fmt.Errorf("truncated value")
	}
	value := append([]byte(nil), r.buf[:length]...)
	r.buf = r.buf[length:]
	return value, tombstone, nil
}
