// Copyright 2024 github.com/ucirello
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package envparse parses the semicolon-or-newline separated K=V environment
// variable lists used throughout service definitions and the host runtime
// command line, with backslash escapes for '=', ';', '"' and '\'.
package envparse

import "strings"

// Parse splits s on ';' and newlines into "K=V" pairs, honoring backslash
// escapes for '=', ';', '"' and '\' inside either the key or the value.
// Every entry is kept in input order, duplicates included; Layer is what
// lets later entries win when the same key appears twice.
func Parse(s string) ([]string, error) {
	var pairs []string
	for _, raw := range splitUnescaped(s) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key, value, err := splitKV(raw)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, key+"="+value)
	}
	return pairs, nil
}

// splitUnescaped splits on ';' and '\n', treating "\;" as a literal
// semicolon rather than a separator.
func splitUnescaped(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteByte('\\')
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ';' || r == '\n':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		cur.WriteByte('\\')
	}
	out = append(out, cur.String())
	return out
}

// splitKV parses one "K=V" entry, applying escapes \= \; \" \\ to produce
// the literal key and value.
func splitKV(entry string) (key, value string, err error) {
	var (
		b         strings.Builder
		escaped   bool
		sawEquals bool
		valBuf    strings.Builder
	)
	target := &b
	for i := 0; i < len(entry); i++ {
		c := entry[i]
		if escaped {
			switch c {
			case '=', ';', '"', '\\':
				target.WriteByte(c)
			default:
				target.WriteByte('\\')
				target.WriteByte(c)
			}
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '=':
			if !sawEquals {
				sawEquals = true
				target = &valBuf
				continue
			}
			target.WriteByte(c)
		case '"':
			// bare quotes are stripped; only the escaped form \" is literal
		default:
			target.WriteByte(c)
		}
	}
	if escaped {
		target.WriteByte('\\')
	}
	if !sawEquals {
		return "", "", errInvalidEntry(entry)
	}
	return strings.TrimSpace(b.String()), strings.TrimSpace(valBuf.String()), nil
}

type errInvalidEntry string

func (e errInvalidEntry) Error() string { return "envparse: missing '=' in entry: " + string(e) }

// Expand resolves %VAR% references against the environment layer built up
// so far (layer = process env + defined vars, left to right, later entries
// winning), matching the host runtime's §4.F.3 layering rule.
func Expand(value string, layer map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(value); {
		if value[i] == '%' {
			if end := strings.IndexByte(value[i+1:], '%'); end >= 0 {
				name := value[i+1 : i+1+end]
				if v, ok := layer[name]; ok {
					b.WriteString(v)
					i += end + 2
					continue
				}
			}
		}
		b.WriteByte(value[i])
		i++
	}
	return b.String()
}

// Layer folds an ordered "K=V" list into a map, later entries winning, and
// expanding %VAR% references against the environment built up so far.
func Layer(base map[string]string, entries []string) map[string]string {
	out := make(map[string]string, len(base)+len(entries))
	for k, v := range base {
		out[k] = v
	}
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		out[k] = Expand(v, out)
	}
	return out
}

// ToSlice renders a layered environment map back to "K=V" slice form
// suitable for exec.Cmd.Env.
func ToSlice(layer map[string]string) []string {
	out := make([]string, 0, len(layer))
	for k, v := range layer {
		out = append(out, k+"="+v)
	}
	return out
}
