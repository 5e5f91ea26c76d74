package env

import (
	"os"
	"path/filepath"
	"strings"
)

// Merge composes an environment in "K=V" form. Precedence, lowest first:
// the OS environment when useOS is set, each file in files in order, then
// the overrides list. ${VAR} references in values are expanded against the
// composed set (simple expansion, no recursion).
func Merge(useOS bool, files []string, overrides []string) ([]string, error) {
	m := make(map[string]string)
	if useOS {
		for _, kv := range os.Environ() {
			if k, v, ok := split(kv); ok {
				m[k] = v
			}
		}
	}
	for _, p := range files {
		pairs, err := loadFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range overrides {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out, nil
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// loadFile parses a simple .env file with KEY=VALUE lines. Lines starting
// with # are ignored; no export keyword, no quoting.
func loadFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
