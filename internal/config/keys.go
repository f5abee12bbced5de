package config

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Key is one settable value in the config file, addressed by its dotted
// JSON path such as "upload.part_size".
type Key struct {
	Name   string
	Type   string // Go type of the field: string, bool, int or int64
	Secret bool

	index []int
}

var keys = collectKeys(reflect.TypeFor[Config](), "", nil)

// collectKeys walks the json tags of t. Nested structs become dotted
// prefixes. Fields tagged secret:"true" are masked when listed.
func collectKeys(t reflect.Type, prefix string, index []int) []Key {
	var out []Key
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		idx := append(slices.Clone(index), i)
		if f.Type.Kind() == reflect.Struct {
			out = append(out, collectKeys(f.Type, name, idx)...)
			continue
		}
		out = append(out, Key{
			Name:   name,
			Type:   f.Type.String(),
			Secret: f.Tag.Get("secret") == "true",
			index:  idx,
		})
	}
	slices.SortFunc(out, func(a, b Key) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Keys returns every settable key, sorted by name.
func Keys() []Key {
	return slices.Clone(keys)
}

// LookupKey returns the key named name.
func LookupKey(name string) (Key, bool) {
	i, ok := slices.BinarySearchFunc(keys, name, func(k Key, name string) int {
		return strings.Compare(k.Name, name)
	})
	if !ok {
		return Key{}, false
	}
	return keys[i], true
}

// IsSecretKey reports whether name holds a credential.
func IsSecretKey(name string) bool {
	k, ok := LookupKey(name)
	return ok && k.Secret
}

// Get returns the key's value in cfg.
func (k Key) Get(cfg *Config) any {
	return k.field(cfg).Interface()
}

// Set parses s as the key's type and stores it in cfg. cfg is unchanged
// when s does not parse.
func (k Key) Set(cfg *Config, s string) error {
	v := k.field(cfg)
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", k.Name, s)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("%s expects an integer, got %q", k.Name, s)
		}
		v.SetInt(n)
	default:
		return fmt.Errorf("%s has unsupported type %s", k.Name, k.Type)
	}
	return nil
}

func (k Key) field(cfg *Config) reflect.Value {
	return reflect.ValueOf(cfg).Elem().FieldByIndex(k.index)
}

// Mask hides all but the last four characters of a secret.
func Mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}
