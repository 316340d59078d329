package config

import (
	"fmt"
	"net/url"
	"os"
)

// ParseURI resolves a string-typed setting that may be supplied indirectly:
//
//	env://NAME?fallback  -> value of the environment variable NAME, or the
//	                        raw query string when NAME is unset
//	file://PATH          -> contents of the file at PATH
//	anything else        -> the value itself
func ParseURI(value string) (string, error) {
	u, err := url.Parse(value)
	if err != nil {
		return value, nil
	}
	switch u.Scheme {
	case "env":
		if v, ok := os.LookupEnv(u.Host); ok {
			return v, nil
		}
		return u.RawQuery, nil
	case "file":
		b, err := os.ReadFile(u.Host + u.Path)
		if err != nil {
			return "", fmt.Errorf("config: read %q: %w", value, err)
		}
		return string(b), nil
	default:
		return value, nil
	}
}
