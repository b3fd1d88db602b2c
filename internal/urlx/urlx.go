// Package urlx builds redirect and action links from caller-supplied
// base URLs without string concatenation.
package urlx

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when a base URL is not absolute.
var ErrInvalidURL = errors.New("invalid url")

// Param is a single query parameter.
type Param struct {
	Key   string
	Value string
}

// WithQuery returns raw with params set on its query string. Existing
// parameters with the same key are replaced, others are preserved.
func WithQuery(raw string, params ...Param) (string, error) {
	u, err := parseAbsolute(raw)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for _, p := range params {
		q.Set(p.Key, p.Value)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// JoinPath appends escaped path segments to base.
func JoinPath(base string, elems ...string) (string, error) {
	u, err := parseAbsolute(base)
	if err != nil {
		return "", err
	}

	escaped := make([]string, 0, len(elems))
	for _, e := range elems {
		escaped = append(escaped, url.PathEscape(e))
	}
	return u.JoinPath(escaped...).String(), nil
}

// Origin returns the lowercased scheme://host[:port] of an absolute URL.
func Origin(raw string) (string, error) {
	u, err := parseAbsolute(raw)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}
	return u, nil
}
