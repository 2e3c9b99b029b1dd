package auth

import (
	"os"
	"strings"
)

// AllowList decides which upstream logins may sign in.
type AllowList interface {
	// Allowed reports whether login may sign in. Matching is case-insensitive.
	Allowed(login string) bool
	// Entries returns the configured logins, for diagnostics.
	Entries() []string
}

// StaticAllowList is a fixed set of logins.
type StaticAllowList []string

// ParseAllowList splits a comma-separated list, dropping blanks.
func ParseAllowList(s string) StaticAllowList {
	var out StaticAllowList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l StaticAllowList) Allowed(login string) bool {
	if login == "" {
		return false
	}
	for _, entry := range l {
		if strings.EqualFold(entry, login) {
			return true
		}
	}
	return false
}

func (l StaticAllowList) Entries() []string {
	return append([]string(nil), l...)
}

// EnvAllowList reads a comma-separated list from an environment variable on
// every call, so changes apply to the next login without a restart.
type EnvAllowList struct {
	Var    string
	lookup func(string) (string, bool)
}

// NewEnvAllowList returns an EnvAllowList reading name.
func NewEnvAllowList(name string) *EnvAllowList {
	return &EnvAllowList{Var: name, lookup: os.LookupEnv}
}

func (l *EnvAllowList) current() StaticAllowList {
	v, _ := l.lookup(l.Var)
	return ParseAllowList(v)
}

func (l *EnvAllowList) Allowed(login string) bool {
	return l.current().Allowed(login)
}

func (l *EnvAllowList) Entries() []string {
	return l.current().Entries()
}
