package sellergate

import "strings"

// pathPattern is a seller-registered route template supporting ":param"
// segments, e.g. "/api/users/:id".
type pathPattern struct {
	method   string
	segments []string
}

func newPathPattern(method, path string) pathPattern {
	return pathPattern{method: strings.ToUpper(method), segments: splitPath(path)}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// match reports whether method/path satisfies p, and collects the
// resolved values of any ":param" segments.
func (p pathPattern) match(method, path string) (map[string]string, bool) {
	if p.method != "" && !strings.EqualFold(p.method, method) {
		return nil, false
	}
	segs := splitPath(path)
	if len(segs) != len(p.segments) {
		return nil, false
	}
	params := map[string]string{}
	for i, want := range p.segments {
		got := segs[i]
		if strings.HasPrefix(want, ":") {
			params[strings.TrimPrefix(want, ":")] = got
			continue
		}
		if want != got {
			return nil, false
		}
	}
	return params, true
}
