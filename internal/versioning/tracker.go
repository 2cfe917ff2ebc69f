package versioning

import (
	"encoding"
	"encoding/json"
	"reflect"
	"strings"
)

// State is the revision bookkeeping of a record at one point in time.
type State struct {
	Kind       Kind
	Published  int
	Draft      int
	Cumulative int
}

// FieldChange is a difference in a single content field. Values are JSON encoded.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// Tracker remembers the values a record had when it was loaded so a later
// save can tell what changed.
//
// Embedded structs and fields tagged `versioning:"-"` are not tracked as content.
// Related records are compared by their content too: nested fields tagged
// `versioning:"-"` or `json:"-"` are left out, so rebuilding a relation with
// new row IDs does not count as a change.
type Tracker struct {
	isNew  bool
	state  State
	fields map[string]string
}

// NewTracker returns a tracker for a record that has not been persisted yet.
func NewTracker() *Tracker {
	return &Tracker{isNew: true, fields: map[string]string{}}
}

// Track captures the current values of v.
func Track(v Versionable) *Tracker {
	fields := map[string]string{}
	eachField(v, func(name string, value reflect.Value) {
		fields[name] = contentJSON(value)
	})
	return &Tracker{state: v.RevisionState(), fields: fields}
}

func (t *Tracker) IsNew() bool {
	return t.isNew
}

// Previous returns the bookkeeping state captured by Track.
func (t *Tracker) Previous() State {
	return t.state
}

// HasChanged reports whether the named content field of v differs from the
// captured value. Unknown fields are reported as unchanged.
func (t *Tracker) HasChanged(v any, field string) bool {
	for _, change := range t.Changes(v) {
		if change.Field == field {
			return true
		}
	}
	return false
}

// Changes lists the content fields of v that differ from the captured values,
// in struct field order. New records have no changes.
func (t *Tracker) Changes(v any) []FieldChange {
	if t.isNew {
		return nil
	}

	var changes []FieldChange
	eachField(v, func(name string, value reflect.Value) {
		current := contentJSON(value)
		previous, ok := t.fields[name]
		if !ok || previous == current {
			return
		}
		changes = append(changes, FieldChange{Field: name, Old: previous, New: current})
	})
	return changes
}

func eachField(v any, fn func(name string, value reflect.Value)) {
	value := reflect.Indirect(reflect.ValueOf(v))
	if value.Kind() != reflect.Struct {
		return
	}

	typ := value.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.Anonymous || !field.IsExported() || field.Tag.Get("versioning") == "-" {
			continue
		}
		fn(fieldName(field), value.Field(i))
	}
}

func fieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

func contentJSON(value reflect.Value) string {
	jsonBytes, _ := json.Marshal(content(value))
	return string(jsonBytes)
}

var (
	jsonMarshaler = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshaler = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// content converts value into plain maps and slices. Types with their own
// JSON or text encoding are kept as encoded. Empty maps and slices are nil.
func content(value reflect.Value) interface{} {
	if !value.IsValid() || !value.CanInterface() {
		return nil
	}
	if typ := value.Type(); typ.Implements(jsonMarshaler) || typ.Implements(textMarshaler) {
		if (value.Kind() == reflect.Ptr || value.Kind() == reflect.Interface) && value.IsNil() {
			return nil
		}
		jsonBytes, err := json.Marshal(value.Interface())
		if err != nil {
			return nil
		}
		switch string(jsonBytes) {
		case "null", "{}", "[]":
			return nil
		}
		return json.RawMessage(jsonBytes)
	}

	switch value.Kind() {
	case reflect.Ptr, reflect.Interface:
		if value.IsNil() {
			return nil
		}
		return content(value.Elem())
	case reflect.Struct:
		fields := map[string]interface{}{}
		collect(value, fields)
		return fields
	case reflect.Map:
		if value.Len() == 0 {
			return nil
		}
		return value.Interface()
	case reflect.Slice, reflect.Array:
		if value.Len() == 0 {
			return nil
		}
		items := make([]interface{}, 0, value.Len())
		for i := 0; i < value.Len(); i++ {
			items = append(items, content(value.Index(i)))
		}
		return items
	default:
		return value.Interface()
	}
}

// collect adds the content fields of a nested struct, flattening embedded structs.
func collect(value reflect.Value, fields map[string]interface{}) {
	typ := value.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.Tag.Get("versioning") == "-" || field.Tag.Get("json") == "-" {
			continue
		}
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collect(value.Field(i), fields)
			continue
		}
		if !field.IsExported() {
			continue
		}
		fields[fieldName(field)] = content(value.Field(i))
	}
}
