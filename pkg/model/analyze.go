package model

import (
	"sort"

	"github.com/wrogo/wro/pkg/resource"
)

// Report lists the structural problems of a model that do not prevent it
// from loading.
type Report struct {
	// DanglingRefs maps a group to the groups it references that do not exist.
	DanglingRefs map[string][]string
	// Cycles lists the groups that can reach themselves through references.
	Cycles []string
}

// Analyze inspects the group references of m.
func Analyze(m *resource.Model) Report {
	report := Report{DanglingRefs: map[string][]string{}}

	for name, g := range m.Groups {
		for _, r := range g.Resources {
			if !r.IsGroupRef() {
				continue
			}
			if _, ok := m.Groups[r.RefName()]; !ok {
				report.DanglingRefs[name] = append(report.DanglingRefs[name], r.RefName())
			}
		}
	}

	for name := range m.Groups {
		if reaches(m, name, name, map[string]bool{}) {
			report.Cycles = append(report.Cycles, name)
		}
	}
	sort.Strings(report.Cycles)
	return report
}

func reaches(m *resource.Model, from, target string, visited map[string]bool) bool {
	if visited[from] {
		return false
	}
	visited[from] = true
	for _, r := range m.Groups[from].Resources {
		if !r.IsGroupRef() {
			continue
		}
		if r.RefName() == target || reaches(m, r.RefName(), target, visited) {
			return true
		}
	}
	return false
}
