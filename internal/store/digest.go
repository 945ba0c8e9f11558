package store

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Digest hashes a value canonically: record fields are visited in sorted
// order and scalars are tagged with their Go type, so equal values always
// hash alike.
func Digest(v Value) uint64 {
	h := xxhash.New()
	writeValue(h, v)
	return h.Sum64()
}

// Fingerprint hashes the whole store. Two stores with the same fingerprint
// hold the same entities.
func (s *Store) Fingerprint() uint64 {
	h := xxhash.New()
	for _, k := range s.Keys() {
		_, _ = h.WriteString(string(k))
		_, _ = h.WriteString("\x00")
		writeRecord(h, s.Entities[k])
	}
	return h.Sum64()
}

// ContentIdentity is the identity of a sequence item with no entity key.
func ContentIdentity(v Value) string {
	return "#" + strconv.FormatUint(Digest(v), 16)
}

// IsContentIdentity reports whether id was made by ContentIdentity.
func IsContentIdentity(id string) bool {
	return strings.HasPrefix(id, "#")
}

func writeRecord(h *xxhash.Digest, r Record) {
	fields := make([]string, 0, len(r))
	for f := range r {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	_, _ = h.WriteString("{")
	for _, f := range fields {
		_, _ = h.WriteString(f)
		_, _ = h.WriteString("\x00")
		writeValue(h, r[f])
	}
	_, _ = h.WriteString("}")
}

func writeValue(h *xxhash.Digest, v Value) {
	switch v.Kind {
	case KindAbsent:
		_, _ = h.WriteString("A")
	case KindNull:
		_, _ = h.WriteString("N")
	case KindScalar:
		_, _ = h.WriteString("S")
		writeScalar(h, v.Scalar)
	case KindRef:
		_, _ = h.WriteString("R")
		_, _ = h.WriteString(string(v.Ref))
		_, _ = h.WriteString("\x00")
	case KindRecord:
		writeRecord(h, v.Record)
	case KindSequence:
		seq := v.Sequence
		_, _ = h.WriteString("[")
		for _, item := range seq.Items {
			writeValue(h, item.Value)
			_, _ = h.WriteString(item.Cursor)
			_, _ = h.WriteString("\x00")
		}
		_, _ = h.WriteString("]")
		if seq.Paginated {
			_, _ = h.WriteString("P")
			_, _ = h.WriteString(strconv.Itoa(int(seq.Direction)))
			_, _ = h.WriteString(seq.Cursor)
			_, _ = h.WriteString("\x00")
			_, _ = h.WriteString(strconv.Itoa(int(seq.PageInfo.HasPreviousPage)))
			_, _ = h.WriteString(strconv.Itoa(int(seq.PageInfo.HasNextPage)))
			_, _ = h.WriteString(seq.PageInfo.StartCursor)
			_, _ = h.WriteString("\x00")
			_, _ = h.WriteString(seq.PageInfo.EndCursor)
			_, _ = h.WriteString("\x00")
		}
	}
}

func writeScalar(h *xxhash.Digest, s any) {
	switch x := s.(type) {
	case nil:
		_, _ = h.WriteString("n")
	case string:
		_, _ = h.WriteString("s")
		_, _ = h.WriteString(x)
		_, _ = h.WriteString("\x00")
	case bool:
		_, _ = h.WriteString("b")
		_, _ = h.WriteString(strconv.FormatBool(x))
	case int64:
		_, _ = h.WriteString("i")
		_, _ = h.WriteString(strconv.FormatInt(x, 10))
		_, _ = h.WriteString("\x00")
	case float64:
		_, _ = h.WriteString("f")
		_, _ = h.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		_, _ = h.WriteString("\x00")
	case []any:
		_, _ = h.WriteString("l")
		for _, item := range x {
			writeScalar(h, item)
		}
		_, _ = h.WriteString("\x00")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = h.WriteString("m")
		for _, k := range keys {
			_, _ = h.WriteString(k)
			_, _ = h.WriteString("\x00")
			writeScalar(h, x[k])
		}
		_, _ = h.WriteString("\x00")
	default:
		_, _ = h.WriteString("?")
		_, _ = h.WriteString(FormatScalar(x))
		_, _ = h.WriteString("\x00")
	}
}
