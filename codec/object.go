package codec

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Object is an ordered collection of fields, as decoded from an STObject.
type Object struct {
	fields []Field
	index  map[string]int
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{index: make(map[string]int)}
}

// Set appends the field, or replaces the value of an existing field with the
// same name in place. It reports whether a field was replaced.
func (o *Object) Set(f Field) bool {
	if o.index == nil {
		o.index = make(map[string]int)
	}
	if i, exists := o.index[f.Name]; exists {
		o.fields[i] = f
		return true
	}
	o.index[f.Name] = len(o.fields)
	o.fields = append(o.fields, f)
	return false
}

// Get returns the value of the named field.
func (o *Object) Get(name string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	i, ok := o.index[name]
	if !ok {
		return nil, false
	}
	return o.fields[i].Value, true
}

// Fields returns the fields in decode order. The returned slice must not be
// modified.
func (o *Object) Fields() []Field {
	if o == nil {
		return nil
	}
	return o.fields
}

// Len returns the number of fields.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.fields)
}

// Canonical returns the fields sorted by type code then field code, the order
// in which they are serialized.
func (o *Object) Canonical() []Field {
	sorted := make([]Field, len(o.Fields()))
	copy(sorted, o.Fields())
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].Code < sorted[j].Code
	})
	return sorted
}

func (o *Object) UInt32(name string) (uint32, bool) {
	v, ok := o.Get(name)
	if !ok {
		return 0, false
	}
	u, ok := v.(UInt32)
	return uint32(u), ok
}

func (o *Object) UInt64(name string) (uint64, bool) {
	v, ok := o.Get(name)
	if !ok {
		return 0, false
	}
	u, ok := v.(UInt64)
	return uint64(u), ok
}

func (o *Object) Hash256(name string) (Hash256, bool) {
	v, ok := o.Get(name)
	if !ok {
		return Hash256{}, false
	}
	h, ok := v.(Hash256)
	return h, ok
}

func (o *Object) Blob(name string) ([]byte, bool) {
	v, ok := o.Get(name)
	if !ok {
		return nil, false
	}
	b, ok := v.(Blob)
	return b, ok
}

func (o *Object) AccountID(name string) (AccountID, bool) {
	v, ok := o.Get(name)
	if !ok {
		return AccountID{}, false
	}
	a, ok := v.(AccountID)
	return a, ok
}

func (o *Object) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range o.Fields() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalJSON renders the object as a JSON object preserving field order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		var value []byte
		switch v := f.Value.(type) {
		case *Object:
			value, err = v.MarshalJSON()
		case UInt16, UInt32, Amount:
			value = []byte(v.String())
		default:
			value, err = json.Marshal(v.String())
		}
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
