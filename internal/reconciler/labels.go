package reconciler

import (
	"encoding/json"
	"strings"
)

// Compose-style orchestration metadata labels.
const (
	LabelProject   = "com.docker.compose.project"
	LabelService   = "com.docker.compose.service"
	LabelDependsOn = "com.docker.compose.depends_on"
)

type dependsOnEncoding int

const (
	dependsOnAbsent dependsOnEncoding = iota
	dependsOnJSON
	dependsOnDelimited
)

// dependsOn is the parse result for a dependency label. The encoding tag
// records which accepted form matched; malformed input degrades to an
// empty, absent result so the container is treated as standalone.
type dependsOn struct {
	encoding dependsOnEncoding
	services []string
}

// parseDependsOn accepts both encodings seen in the wild: a JSON string
// list (["db","cache"]) and a comma-separated string where each entry may
// carry :condition:restart suffixes (db:service_started:true,cache). JSON
// is tried first; the delimiter form is the deterministic fallback.
func parseDependsOn(value string) dependsOn {
	value = strings.TrimSpace(value)
	if value == "" {
		return dependsOn{encoding: dependsOnAbsent}
	}

	if strings.HasPrefix(value, "[") {
		var list []string
		if err := json.Unmarshal([]byte(value), &list); err == nil {
			return dependsOn{encoding: dependsOnJSON, services: cleanServiceNames(list)}
		}
		// Malformed JSON never falls through to delimiter splitting; a
		// bracketed value that does not decode is treated as absent.
		return dependsOn{encoding: dependsOnAbsent}
	}

	parts := strings.Split(value, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		name, _, _ := strings.Cut(part, ":")
		names = append(names, name)
	}
	return dependsOn{encoding: dependsOnDelimited, services: cleanServiceNames(names)}
}

func cleanServiceNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, name := range in {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// dependsOnService reports whether the parsed list names service.
func (d dependsOn) dependsOnService(service string) bool {
	for _, s := range d.services {
		if s == service {
			return true
		}
	}
	return false
}
