package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the JWT payload a WebSocket dialer presents to a listener.
type Claims struct {
	// Devices lists the device ids the bearer may speak for. Empty means
	// any id; the tunnel's stranger rule still applies on top.
	Devices []int `json:"devices,omitempty"`
	jwt.RegisteredClaims
}

// Subject returns the registered subject claim.
func (c *Claims) Subject() string {
	return c.RegisteredClaims.Subject
}

// AllowsDevice reports whether the bearer may speak for device id.
func (c *Claims) AllowsDevice(id byte) bool {
	if len(c.Devices) == 0 {
		return true
	}
	for _, d := range c.Devices {
		if d == int(id) {
			return true
		}
	}
	return false
}

// Copy returns a copy of claims with its own Devices slice. The embedded
// registered claims are copied by value, so their Audience slice and time
// pointers remain shared with the original.
func (c *Claims) Copy() *Claims {
	if c == nil {
		return nil
	}
	copyClaims := *c
	if len(c.Devices) > 0 {
		copyClaims.Devices = append([]int{}, c.Devices...)
	}
	return &copyClaims
}
