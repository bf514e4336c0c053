package env

import (
	"os"
	"strings"
)

type Var map[string]string

// Env resolves environment references in configured paths.
// Lookups consult Var first, then the OS environment captured by FromOS
// (or read lazily when FromOS was never called).
type Env struct {
	Var Var // configured variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" {
				continue
			}
			base[k] = v
		}
	}
	e.env = base
}

// Isolate stops lookups from falling back to the OS environment.
func (e *Env) Isolate() { e.env = make(Var) }

// Set sets a variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetPairs applies "KEY=VALUE" entries; malformed ones are skipped.
func (e *Env) SetPairs(kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
}

// Lookup returns the value of k from Var, then from the OS base.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env != nil {
		v, ok := e.env[k]
		return v, ok
	}
	return os.LookupEnv(k)
}

// Expand resolves ${VAR}, $VAR and %VAR% references in s. Unknown %VAR%
// references are kept verbatim; unknown $ references expand to "".
func (e *Env) Expand(s string) string {
	if s == "" {
		return s
	}
	s = e.expandPercent(s)
	if !strings.ContainsRune(s, '$') {
		return s
	}
	return os.Expand(s, func(k string) string {
		v, _ := e.Lookup(k)
		return v
	})
}

func (e *Env) expandPercent(s string) string {
	if strings.Count(s, "%") < 2 {
		return s
	}
	var b strings.Builder
	for {
		i := strings.IndexByte(s, '%')
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+1:], '%')
		if j < 0 {
			break
		}
		name := s[i+1 : i+1+j]
		b.WriteString(s[:i])
		if v, ok := e.Lookup(name); ok && name != "" {
			b.WriteString(v)
			s = s[i+j+2:]
			continue
		}
		// not a variable: keep the first '%' and rescan from the second one
		b.WriteString(s[i : i+1+j])
		s = s[i+1+j:]
	}
	b.WriteString(s)
	return b.String()
}
