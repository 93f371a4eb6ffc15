package folder

import (
	"path"
	"strings"
)

// Filter decides whether a folder takes part in a run. Name patterns
// are shell globs matched case-insensitively against the mapped
// destination name; an include list overrides the exclude list.
type Filter struct {
	Includes      []string
	Excludes      []string
	TypeFilter    []string
	TypeBlacklist []string
}

// Allow reports whether a folder with the given target name and type
// passes the filter.
func (f *Filter) Allow(targetName, folderType string) bool {
	if len(f.TypeFilter) > 0 && !containsFold(f.TypeFilter, folderType) {
		return false
	}
	if containsFold(f.TypeBlacklist, folderType) {
		return false
	}

	if len(f.Includes) > 0 {
		return matchAny(f.Includes, targetName)
	}
	return !matchAny(f.Excludes, targetName)
}

func matchAny(patterns []string, name string) bool {
	name = strings.ToLower(name)
	for _, p := range patterns {
		if ok, err := path.Match(strings.ToLower(p), name); err == nil && ok {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
