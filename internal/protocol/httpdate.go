// Package protocol implements the wire-level parsing and reconstruction of
// the HTTP/1.1 request and response heads the proxy forwards between
// clients and origin servers.
package protocol

import "time"

// httpDateLayout is the IMF-fixdate form used throughout HTTP caching
// headers: "Mon, 02 Jan 2006 15:04:05 GMT".
const httpDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// ParseHTTPDate parses an HTTP-date string in UTC. It mirrors
// original_source/response.cpp's use of get_time with "%a, %d %b %Y
// %H:%M:%S GMT": an unparsable value yields the zero time, which downstream
// expiration checks treat as already expired.
func ParseHTTPDate(s string) (time.Time, error) {
	return time.Parse(httpDateLayout, s)
}

// FormatHTTPDate renders t in the canonical HTTP-date form, always in GMT.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(httpDateLayout)
}
