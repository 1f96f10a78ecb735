package proxy

import (
	"path"
	"strings"
)

// PathMatcher maps backend paths onto the resources browsers may reach.
// A bare name such as "classes" allows /classes and everything below it.
// Entries starting with "/" are glob patterns:
//   - /classes/* matches /classes/42 but not /classes/42/slots
//   - /classes/** matches /classes and anything below it
//   - /classes/*/slots matches /classes/42/slots
type PathMatcher struct {
	patterns []pattern
}

type pattern struct {
	resource string
	glob     string
}

// NewPathMatcher creates a matcher from resource names and glob patterns
func NewPathMatcher(entries []string) *PathMatcher {
	pm := &PathMatcher{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.HasPrefix(e, "/") {
			glob := normalizePath(e)
			pm.patterns = append(pm.patterns, pattern{resource: firstSegment(glob), glob: glob})
			continue
		}
		name := strings.Trim(e, "/")
		pm.patterns = append(pm.patterns, pattern{resource: name, glob: "/" + name + "/**"})
	}
	return pm
}

// Match returns the resource a path belongs to. An empty matcher allows
// nothing.
func (pm *PathMatcher) Match(requestPath string) (string, bool) {
	requestPath = normalizePath(requestPath)
	for _, p := range pm.patterns {
		if matchGlobPattern(p.glob, requestPath) {
			return p.resource, true
		}
	}
	return "", false
}

// IsAllowed reports whether any pattern matches requestPath
func (pm *PathMatcher) IsAllowed(requestPath string) bool {
	_, ok := pm.Match(requestPath)
	return ok
}

// normalizePath ensures path has leading slash and no trailing slash
func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return path.Clean(p)
}

func firstSegment(p string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")
	return seg
}

func matchGlobPattern(pattern, requestPath string) bool {
	if pattern == requestPath {
		return true
	}

	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		if prefix == "" {
			return true
		}
		prefix = normalizePath(prefix)
		return requestPath == prefix || strings.HasPrefix(requestPath, prefix+"/")
	}

	if !strings.Contains(pattern, "*") {
		return false
	}

	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(requestPath, "/")
	if len(patternParts) != len(pathParts) {
		return false
	}
	for i, part := range patternParts {
		if part == "*" {
			if pathParts[i] == "" {
				return false
			}
			continue
		}
		if part != pathParts[i] {
			return false
		}
	}
	return true
}
