package url

// Protocol returns the scheme with its trailing colon, e.g. "http:",
// matching the NisseHTTP::URL::protocol() view.
func (u *URL) Protocol() string {
	if u.Scheme == "" {
		return ""
	}
	return u.Scheme + ":"
}

// Origin returns "scheme://host" with no path, query, or fragment.
func (u *URL) Origin() string {
	if u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Pathname is an alias for Path, named to match the request-target view
// used by the path matcher and dispatcher.
func (u *URL) Pathname() string {
	return u.Path
}

// Hash returns the fragment with its leading '#', or "" if there is none.
func (u *URL) Hash() string {
	if u.Fragment == "" {
		return ""
	}
	return "#" + u.Fragment
}

// QueryString returns the raw query with its leading '?', or "" if there is
// no query component.
func (u *URL) QueryString() string {
	if u.RawQuery == "" && !u.ForceQuery {
		return ""
	}
	return "?" + u.RawQuery
}

// Param decodes the query string on first access and caches the result on
// the URL so repeated calls do not re-parse, mirroring the original's
// lazily-decoded query parameters. It returns the first value bound to
// name, or "" if absent.
func (u *URL) Param(name string) string {
	if u.decodedQuery == nil {
		q, err := ParseQuery(u.RawQuery)
		if err != nil {
			q = Values{}
		}
		u.decodedQuery = q
	}
	vs := u.decodedQuery[name]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Params forces (and caches) the lazy query decode and returns the full
// Values map, preserving multi-value query parameters.
func (u *URL) Params() Values {
	u.Param("")
	return u.decodedQuery
}
