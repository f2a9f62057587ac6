package auth

// OriginValidator checks request origins against an exact-match allow-list
// of registered origins, scheme included. Substring or suffix matching is
// deliberately not supported: "https://evil-aldari.app" must never pass
// because it contains a registered name.
type OriginValidator struct {
	allowed map[string]bool
}

// NewOriginValidator creates a validator for the given registered origins,
// e.g. "https://auth.aldari.app".
func NewOriginValidator(origins []string) *OriginValidator {
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		if origin != "" {
			allowed[origin] = true
		}
	}
	return &OriginValidator{allowed: allowed}
}

// Validate reports whether the Origin header value is registered. A missing
// origin fails: state-changing requests must carry one.
func (v *OriginValidator) Validate(origin string) bool {
	if origin == "" {
		return false
	}
	return v.allowed[origin]
}

// Origins returns the registered origins.
func (v *OriginValidator) Origins() []string {
	origins := make([]string, 0, len(v.allowed))
	for origin := range v.allowed {
		origins = append(origins, origin)
	}
	return origins
}
