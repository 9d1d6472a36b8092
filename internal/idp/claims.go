package idp

// Standard claim names emitted by every provider adapter.
const (
	ClaimSubject       = "sub"
	ClaimEmail         = "email"
	ClaimEmailVerified = "email_verified"
	ClaimName          = "name"
	ClaimLogin         = "login"
	ClaimPicture       = "picture"
	ClaimProfile       = "profile"
)

// Claims maps a claim name to its value. A nil value is an explicit null as
// returned by the provider, which is different from an absent claim.
type Claims map[string]*string

// Get returns the value of name and whether it is present and non-null.
func (c Claims) Get(name string) (string, bool) {
	v, ok := c[name]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Set stores a non-null value.
func (c Claims) Set(name, value string) {
	c[name] = &value
}

// SetNull stores an explicit null.
func (c Claims) SetNull(name string) {
	c[name] = nil
}

// IsNull reports whether name is absent or null.
func (c Claims) IsNull(name string) bool {
	_, ok := c.Get(name)
	return !ok
}

// Subject returns the provider-verified unique subject identifier.
func (c Claims) Subject() string {
	sub, _ := c.Get(ClaimSubject)
	return sub
}

// Clone returns a deep copy so later writes to either side stay isolated.
func (c Claims) Clone() Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(c))
	for k, v := range c {
		if v == nil {
			out[k] = nil
			continue
		}
		s := *v
		out[k] = &s
	}
	return out
}
