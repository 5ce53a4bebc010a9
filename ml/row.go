package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/text/cases"
)

// Field is one named value of a Row. Value holds a decoded JSON scalar
// (json.Number, string, bool, nil) or whatever the producer stored.
type Field struct {
	Key   string
	Value any
}

// Row is an ordered set of named fields. It is the boundary type between
// callers and the engine: keys keep the caller's spelling and order, lookups
// can be case-insensitive.
type Row struct {
	fields []Field
}

// NewRow builds a Row from fields in order. Later duplicates overwrite.
func NewRow(fields ...Field) Row {
	var r Row
	for _, f := range fields {
		r.Set(f.Key, f.Value)
	}
	return r
}

// A Caser carries state between calls, so each Lookup borrows its own.
var folders = sync.Pool{New: func() any { return cases.Fold() }}

// Fields returns a copy of the row's fields in order.
func (r Row) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r Row) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.Key
	}
	return keys
}

// Get returns the value stored under exactly key.
func (r Row) Get(key string) (any, bool) {
	for _, f := range r.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Lookup returns the first value whose key case-folds to the same string as key.
func (r Row) Lookup(key string) (any, bool) {
	c := folders.Get().(cases.Caser)
	defer folders.Put(c)
	want := c.String(key)
	for _, f := range r.fields {
		if f.Key == key || c.String(f.Key) == want {
			return f.Value, true
		}
	}
	return nil, false
}

// Set overwrites the field named exactly key, or appends it.
func (r *Row) Set(key string, value any) {
	for i := range r.fields {
		if r.fields[i].Key == key {
			r.fields[i].Value = value
			return
		}
	}
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

func (r Row) Clone() Row {
	return Row{fields: r.Fields()}
}

// MarshalJSON writes the fields as a JSON object in row order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order. Numbers decode as
// json.Number so they echo back unchanged.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("row must be a JSON object")
	}

	r.fields = r.fields[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		r.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
