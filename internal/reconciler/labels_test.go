package reconciler

import (
	"reflect"
	"testing"
)

func TestParseDependsOn(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		encoding dependsOnEncoding
		services []string
	}{
		{"empty", "", dependsOnAbsent, nil},
		{"whitespace", "  ", dependsOnAbsent, nil},
		{"json list", `["db","cache"]`, dependsOnJSON, []string{"db", "cache"}},
		{"json empty list", `[]`, dependsOnJSON, []string{}},
		{"json malformed", `["db",`, dependsOnAbsent, nil},
		{"json wrong element type", `[1,2]`, dependsOnAbsent, nil},
		{"single plain", "db", dependsOnDelimited, []string{"db"}},
		{"comma separated", "db,cache", dependsOnDelimited, []string{"db", "cache"}},
		{"condition suffixes", "db:service_healthy:true,cache:service_started:false", dependsOnDelimited, []string{"db", "cache"}},
		{"stray commas", "db,,cache,", dependsOnDelimited, []string{"db", "cache"}},
		{"spaces around names", " db , cache ", dependsOnDelimited, []string{"db", "cache"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDependsOn(tt.value)
			if got.encoding != tt.encoding {
				t.Errorf("encoding: got %v, want %v", got.encoding, tt.encoding)
			}
			if len(got.services) != 0 || len(tt.services) != 0 {
				if !reflect.DeepEqual(got.services, tt.services) {
					t.Errorf("services: got %v, want %v", got.services, tt.services)
				}
			}
		})
	}
}

func TestDependsOnService(t *testing.T) {
	d := parseDependsOn("db:service_started:true,cache")
	if !d.dependsOnService("db") || !d.dependsOnService("cache") {
		t.Error("declared dependencies not matched")
	}
	if d.dependsOnService("api") {
		t.Error("undeclared service matched")
	}
	if parseDependsOn("").dependsOnService("db") {
		t.Error("absent label matched")
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"A=1", "B=2", "PATH=/bin"}
	got := mergeEnv(base, []string{"B=20", "C=3"})

	want := []string{"A=1", "B=20", "PATH=/bin", "C=3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeEnv: got %v, want %v", got, want)
	}

	// Base is never mutated.
	if base[1] != "B=2" {
		t.Error("mergeEnv mutated its input")
	}

	// Nil overlay keeps base as-is.
	if got := mergeEnv(base, nil); !reflect.DeepEqual(got, base) {
		t.Errorf("nil overlay: got %v", got)
	}
}
