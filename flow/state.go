package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// StateHandle is the single-writer accessor methods use to read and mutate
// a flow's shared state. Reads and writes are serialized by a mutex even
// though the dispatch loop itself runs one method at a time, so a method
// body that spawns its own goroutines cannot tear the state.
type StateHandle[S any] struct {
	mu      sync.Mutex
	state   S
	onWrite func(methodName string, newState S)
	owner   string
}

func newStateHandle[S any](initial S, onWrite func(string, S)) *StateHandle[S] {
	return &StateHandle[S]{state: initial, onWrite: onWrite}
}

// Get returns a copy of the current state.
func (h *StateHandle[S]) Get() S {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Set replaces the state wholesale. It emits a state-changed notification
// through the handle's onWrite hook, attributed to the method currently
// holding the handle (set internally by the dispatch loop for each
// invocation).
func (h *StateHandle[S]) Set(next S) {
	h.mu.Lock()
	h.state = next
	owner := h.owner
	current := h.state
	h.mu.Unlock()
	if h.onWrite != nil {
		h.onWrite(owner, current)
	}
}

// Update reads, mutates in place via fn, and writes back atomically.
func (h *StateHandle[S]) Update(fn func(S) S) {
	h.mu.Lock()
	h.state = fn(h.state)
	owner := h.owner
	current := h.state
	h.mu.Unlock()
	if h.onWrite != nil {
		h.onWrite(owner, current)
	}
}

func (h *StateHandle[S]) setOwner(name string) {
	h.mu.Lock()
	h.owner = name
	h.mu.Unlock()
}

// Canonicalize produces a stable, order-independent digest of a state
// value: a reflection pre-pass strips func- and chan-typed fields and
// breaks reference cycles before the result is marshaled through
// encoding/json (map keys sort lexically by definition of json.Marshal)
// and hashed with SHA-256. Equal states yield equal digests, so callers
// can compare digests to detect no-op writes.
func Canonicalize[S any](state S) (string, error) {
	data, err := SanitizedJSON(state)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SanitizedJSON runs v through the same func/chan-dropping, cycle-breaking
// pre-pass Canonicalize uses and marshals the result. Exported so other
// packages that need the same "best-effort JSON, never a marshal error from
// an unserializable leaf or a reference cycle" contract (the memory
// connector's persisted bodies, notably) don't have to reimplement it.
func SanitizedJSON(v any) ([]byte, error) {
	sanitized := sanitizeForCanon(reflect.ValueOf(v), map[uintptr]bool{})
	return json.Marshal(sanitized)
}

// sanitizeForCanon walks v and returns a plain value safe to pass to
// json.Marshal. Func- and chan-typed fields/elements are dropped rather
// than left for json.Marshal to error on. A pointer, map, or slice whose
// backing address is still an ancestor in the current walk (a true
// reference cycle, not just two branches sharing the same sub-value) is
// replaced with a placeholder string instead of recursing forever. Any
// leaf kind json.Marshal still can't handle natively (e.g. complex
// numbers) falls back to its %v string form.
func sanitizeForCanon(v reflect.Value, seen map[uintptr]bool) interface{} {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitizeForCanon(v.Elem(), seen)

	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return "<cycle>"
		}
		seen[addr] = true
		result := sanitizeForCanon(v.Elem(), seen)
		delete(seen, addr)
		return result

	case reflect.Struct:
		out := make(map[string]interface{})
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue // unexported
			}
			fieldVal := v.Field(i)
			if fieldVal.Kind() == reflect.Func || fieldVal.Kind() == reflect.Chan {
				continue
			}
			name, omit := jsonFieldName(field)
			if omit {
				continue
			}
			out[name] = sanitizeForCanon(fieldVal, seen)
		}
		return out

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return "<cycle>"
		}
		seen[addr] = true
		out := make(map[string]interface{}, v.Len())
		for _, key := range v.MapKeys() {
			elem := v.MapIndex(key)
			if elem.Kind() == reflect.Func || elem.Kind() == reflect.Chan {
				continue
			}
			out[fmt.Sprint(key.Interface())] = sanitizeForCanon(elem, seen)
		}
		delete(seen, addr)
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return "<cycle>"
		}
		seen[addr] = true
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitizeForCanon(v.Index(i), seen)
		}
		delete(seen, addr)
		return out

	case reflect.Array:
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitizeForCanon(v.Index(i), seen)
		}
		return out

	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return v.Interface()

	default:
		if _, err := json.Marshal(v.Interface()); err == nil {
			return v.Interface()
		}
		return fmt.Sprintf("%v", v.Interface())
	}
}

// jsonFieldName mirrors encoding/json's struct tag handling closely enough
// for canonicalization: a bare "-" tag drops the field, the first
// comma-separated segment renames it, and an untagged field keeps its Go
// name.
func jsonFieldName(field reflect.StructField) (name string, omit bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if tag == "" {
		return field.Name, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "" {
		return field.Name, false
	}
	return parts[0], false
}
