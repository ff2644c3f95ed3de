package meta

import (
	"fmt"
	"sort"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// MarshalKVAttachment encodes a request/response's string-keyed
// attachment map as a single flat JSON object, sorted by key for
// deterministic output. Adapted from the pack's hand-rolled
// easyjson-backed single-value kv encoder (the multi-value variant
// in the same family supports repeated keys, which kvAttachment
// never needs).
func MarshalKVAttachment(kv map[string]string) []byte {
	if len(kv) == 0 {
		return []byte("{}")
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var w jwriter.Writer
	w.RawByte('{')
	for i, k := range keys {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(k)
		w.RawByte(':')
		w.String(kv[k])
	}
	w.RawByte('}')

	buf, _ := w.BuildBytes()
	return buf
}

// UnmarshalKVAttachment decodes a flat JSON object produced by
// MarshalKVAttachment back into a string-keyed map.
func UnmarshalKVAttachment(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}

	in := jlexer.Lexer{Data: b}
	if in.IsNull() {
		in.Skip()
		return nil, in.Error()
	}

	out := make(map[string]string)
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.String()
		in.WantColon()
		out[key] = in.String()
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()

	if err := in.Error(); err != nil {
		return nil, fmt.Errorf("meta: decode kv attachment: %w", err)
	}
	return out, nil
}
