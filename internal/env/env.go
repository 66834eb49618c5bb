package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Terminal defaults applied under every PTY spawn unless overridden.
var Terminal = Var{
	"TERM":      "xterm-256color",
	"COLORTERM": "truecolor",
}

type Env struct {
	Var    Var  // global variables (K->V)
	env    Var  // cached base from OS environment
	noBase bool // when set, the OS environment is not inherited
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// Isolated returns an Env that does not inherit the OS environment.
func Isolated() *Env {
	return &Env{Var: make(Var), env: make(Var), noBase: true}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// WithSet returns a copy of e with K=V added.
func (e *Env) WithSet(k, v string) *Env {
	c := &Env{Var: make(Var, len(e.Var)+1), env: e.env, noBase: e.noBase}
	for kk, vv := range e.Var {
		c.Var[kk] = vv
	}
	c.Var[k] = v
	return c
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment list applying order:
// base = OS env (or cached), then Terminal defaults, then global e.Var
// overrides, then perProc ("K=V") overrides. ${VAR} references are expanded
// against the composed map (single pass). The result is sorted by key.
func (e *Env) Merge(perProc []string) []string {
	if e.env == nil && !e.noBase {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(perProc)+len(Terminal))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range Terminal {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perProc {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
