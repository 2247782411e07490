// Package envfile renders and parses line-oriented KEY=VALUE variable files
// and computes the content digests used for change detection.
package envfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VariableSet maps variable names to string values. It is a value type
// produced fresh on every poll; rendering always iterates keys in sorted
// order so the digest is deterministic.
type VariableSet map[string]string

// Keys returns the variable names in sorted order.
func (vs VariableSet) Keys() []string {
	keys := make([]string, 0, len(vs))
	for k := range vs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Env returns the set as KEY=VALUE strings in sorted key order, the form
// the container engine expects in a container's Env list.
func (vs VariableSet) Env() []string {
	out := make([]string, 0, len(vs))
	for _, k := range vs.Keys() {
		out = append(out, k+"="+vs[k])
	}
	return out
}

// Render serializes the set to the materialized file format: one KEY=VALUE
// line per variable, keys sorted. Values containing whitespace, '=',
// quotes, or '#' are double-quoted with backslash escaping; newlines are
// escaped as \n so every variable stays on a single line.
func (vs VariableSet) Render() []byte {
	var b strings.Builder
	for _, k := range vs.Keys() {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quote(vs[k]))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Digest returns the hex SHA-256 of the rendered file content.
func (vs VariableSet) Digest() string {
	return Digest(vs.Render())
}

// Digest returns the hex SHA-256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func needsQuoting(v string) bool {
	if v == "" {
		return false
	}
	return strings.ContainsAny(v, " \t\n=\"'#")
}

func quote(v string) string {
	if !needsQuoting(v) {
		return v
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(v[i])
		case '\n':
			// Kept out of the raw output so the file stays one line
			// per variable; Parse splits on newlines before unquoting.
			b.WriteString(`\n`)
		default:
			b.WriteByte(v[i])
		}
	}
	b.WriteByte('"')
	return b.String()
}

func unquote(v string) (string, error) {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return "", fmt.Errorf("malformed quoted value %q", v)
	}
	inner := v[1 : len(v)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' {
			i++
			if i >= len(inner) {
				return "", fmt.Errorf("dangling escape in %q", v)
			}
			if inner[i] == 'n' {
				b.WriteByte('\n')
				continue
			}
		}
		b.WriteByte(inner[i])
	}
	return b.String(), nil
}

// Parse reads the materialized file format back into a VariableSet.
// Blank lines and lines starting with '#' are skipped.
func Parse(content []byte) (VariableSet, error) {
	vs := make(VariableSet)
	for i, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, raw, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE, got %q", i+1, line)
		}
		value := raw
		if strings.HasPrefix(raw, `"`) {
			var err error
			if value, err = unquote(raw); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		}
		vs[key] = value
	}
	return vs, nil
}

// WriteAtomic writes content to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial file. Variable
// files hold secrets and are written 0600.
func WriteAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create variable file directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp variable file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp variable file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp variable file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp variable file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename variable file into place: %w", err)
	}
	return nil
}
