package protocol

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const EndpointPath = "/ws"

// Endpoint derives the websocket URL from the backend origin, keeping the
// transport security of the origin's scheme.
func Endpoint(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", u.Scheme)
	}

	u.Path = EndpointPath
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// AudioURL resolves a backend-provided audio path against the origin and
// busts caches with a millisecond timestamp.
func AudioURL(origin, ref string, now time.Time) (string, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse audio url: %w", err)
	}

	u := base.ResolveReference(r)
	q := u.Query()
	q.Set("t", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// AssetURL resolves a static asset name (e.g. "idle.png") against the origin.
func AssetURL(origin, name string) (string, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	return base.ResolveReference(&url.URL{Path: "/" + name}).String(), nil
}
