package metadata

import (
	"strings"
)

// rule fills in one field when the document leaves it out. The value is
// the first non-empty environment variable in env, else def. A "*" path
// segment matches every element of an array.
type rule struct {
	path string
	env  []string
	def  func(r *Registry) any
	// derived marks values that are not literals (env hits and generated
	// ids); only those create missing parent objects.
	derived bool
}

func envRule(path string, env ...string) rule {
	return rule{path: path, env: env}
}

func literalRule(path string, def func() any) rule {
	return rule{path: path, def: func(*Registry) any { return def() }}
}

func emptyList() any   { return []any{} }
func emptyObject() any { return map[string]any{} }
func null() any        { return nil }

// runIDRule defaults a run id from env, else a fresh UUID v4.
func runIDRule(path string, env ...string) rule {
	return rule{
		path:    path,
		env:     env,
		def:     func(r *Registry) any { return r.newID() },
		derived: true,
	}
}

func (ru rule) apply(doc map[string]any, r *Registry) {
	ru.walk(doc, strings.Split(ru.path, "."), r)
}

func (ru rule) walk(obj map[string]any, segs []string, r *Registry) {
	key := segs[0]
	if len(segs) == 1 {
		if _, ok := obj[key]; ok {
			return
		}
		if v, ok := ru.value(r); ok {
			obj[key] = v
		}
		return
	}

	next, present := obj[key]
	if segs[1] == "*" {
		list, ok := next.([]any)
		if !ok {
			return
		}
		for _, el := range list {
			if m, ok := el.(map[string]any); ok && len(segs) > 2 {
				ru.walk(m, segs[2:], r)
			}
		}
		return
	}

	child, ok := next.(map[string]any)
	if !ok {
		if present {
			// wrong type; leave it for the schema to report
			return
		}
		if _, has := ru.peek(r); !has {
			return
		}
		child = map[string]any{}
		obj[key] = child
	}
	ru.walk(child, segs[1:], r)
}

// peek reports whether the rule would create parents for a value.
func (ru rule) peek(r *Registry) (string, bool) {
	if v := ru.fromEnv(r); v != "" {
		return v, true
	}
	return "", ru.derived
}

func (ru rule) value(r *Registry) (any, bool) {
	if v := ru.fromEnv(r); v != "" {
		return v, true
	}
	if ru.def == nil {
		return nil, false
	}
	return ru.def(r), true
}

func (ru rule) fromEnv(r *Registry) string {
	for _, name := range ru.env {
		if v := r.getenv(name); v != "" {
			return v
		}
	}
	return ""
}
