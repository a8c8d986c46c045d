package codec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/xerrors"
)

//go:embed definitions.json
var embeddedDefinitions []byte

// legacyFields are recognised regardless of the loaded definitions. Older
// definition files omit them while validators still emit them.
var legacyFields = map[fieldKey]string{
	{Type: TypeUInt64, Code: 10}:  "Cookie",
	{Type: TypeHash256, Code: 25}: "ValidatedHash",
}

type fieldKey struct {
	Type TypeCode
	Code FieldCode
}

// Definitions maps (type, nth) pairs to field names and back.
type Definitions struct {
	names map[fieldKey]string
	keys  map[string]fieldKey
}

type fieldDefinition struct {
	Nth            int    `json:"nth"`
	IsVLEncoded    bool   `json:"isVLEncoded"`
	IsSerialized   bool   `json:"isSerialized"`
	IsSigningField bool   `json:"isSigningField"`
	Type           string `json:"type"`
}

type definitionsFile struct {
	Types  map[string]int       `json:"TYPES"`
	Fields [][2]json.RawMessage `json:"FIELDS"`
}

// ParseDefinitions reads a definitions document in the rippled format. Fields
// whose type is outside the supported type table are ignored.
func ParseDefinitions(r io.Reader) (*Definitions, error) {
	var file definitionsFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, xerrors.Errorf("decoding definitions: %w", err)
	}
	defs := &Definitions{
		names: make(map[fieldKey]string, len(file.Fields)+len(legacyFields)),
		keys:  make(map[string]fieldKey, len(file.Fields)+len(legacyFields)),
	}
	for i, entry := range file.Fields {
		var name string
		if err := json.Unmarshal(entry[0], &name); err != nil {
			return nil, xerrors.Errorf("field %d: decoding name: %w", i, err)
		}
		var def fieldDefinition
		if err := json.Unmarshal(entry[1], &def); err != nil {
			return nil, xerrors.Errorf("field %q: decoding definition: %w", name, err)
		}
		if !def.IsSerialized || def.Nth < 0 || def.Nth > 255 {
			continue
		}
		code, ok := typeCodeByName(def.Type)
		if !ok {
			continue
		}
		if declared, found := file.Types[def.Type]; found && declared != int(code) {
			return nil, fmt.Errorf("type %s declared as %d, expected %d", def.Type, declared, code)
		}
		defs.add(fieldKey{Type: code, Code: FieldCode(def.Nth)}, name)
	}
	for key, name := range legacyFields {
		defs.add(key, name)
	}
	return defs, nil
}

func (d *Definitions) add(key fieldKey, name string) {
	d.names[key] = name
	d.keys[name] = key
}

// FieldName resolves the name of a field. Unknown pairs resolve to a
// placeholder and false.
func (d *Definitions) FieldName(t TypeCode, f FieldCode) (string, bool) {
	if name, ok := d.names[fieldKey{Type: t, Code: f}]; ok {
		return name, true
	}
	return fmt.Sprintf("Unknown%s%d", t, f), false
}

// Lookup resolves a field name to its codes.
func (d *Definitions) Lookup(name string) (TypeCode, FieldCode, bool) {
	key, ok := d.keys[name]
	return key.Type, key.Code, ok
}

// Len returns the number of known fields.
func (d *Definitions) Len() int { return len(d.names) }

var defaultDefinitions = sync.OnceValue(func() *Definitions {
	defs, err := ParseDefinitions(bytes.NewReader(embeddedDefinitions))
	if err != nil {
		panic("failed to load embedded field definitions: " + err.Error())
	}
	return defs
})

// DefaultDefinitions returns the embedded definitions table, loaded once.
func DefaultDefinitions() *Definitions {
	return defaultDefinitions()
}
