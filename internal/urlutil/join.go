package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// JoinPath appends path segments to base, keeping a trailing slash on the
// last segment and any query already on base.
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	u.Path = path.Join(append([]string{"/", u.Path}, paths...)...)
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") && u.Path != "/" {
		u.Path += "/"
	}
	return u.String(), nil
}

// Resolve builds a backend URL from base, a request path that may carry its
// own query string, and extra query values.
func Resolve(base, requestPath string, query url.Values) (string, error) {
	p, rawQuery, _ := strings.Cut(requestPath, "?")
	joined, err := JoinPath(base, p)
	if err != nil {
		return "", fmt.Errorf("joining %q onto %q: %w", requestPath, base, err)
	}
	u, err := url.Parse(joined)
	if err != nil {
		return "", err
	}

	q := u.Query()
	if rawQuery != "" {
		inline, err := url.ParseQuery(rawQuery)
		if err != nil {
			return "", fmt.Errorf("parsing query of %q: %w", requestPath, err)
		}
		for k, vs := range inline {
			q[k] = append(q[k], vs...)
		}
	}
	for k, vs := range query {
		q[k] = append(q[k], vs...)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LocalRedirect returns target when it is a path on this site and fallback
// otherwise. Used for post-sign-in "next" parameters.
func LocalRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return target
}
