package auth

import "strings"

// Role is the marketplace role carried in the session token.
type Role string

const (
	RoleStreamer Role = "streamer"
	RoleBrand    Role = "brand"
	RoleAdmin    Role = "admin"
)

// Capability names something a route needs the caller to be allowed to do.
type Capability string

const (
	CapGKeysRead     Capability = "gkeys:read"
	CapGKeysWrite    Capability = "gkeys:write"
	CapCampaigns     Capability = "campaigns"
	CapWallet        Capability = "wallet"
	CapKYC           Capability = "kyc"
	CapNotifications Capability = "notifications"
	CapAdmin         Capability = "admin"
)

// roleCapabilities is the single source of truth for route authorization.
// Admins are granted everything in Can.
var roleCapabilities = map[Role][]Capability{
	RoleStreamer: {CapGKeysRead, CapGKeysWrite, CapCampaigns, CapWallet, CapKYC, CapNotifications},
	RoleBrand:    {CapCampaigns, CapWallet, CapKYC, CapNotifications},
}

// ParseRole maps a claim value onto a known role. Unknown roles yield "".
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStreamer, RoleBrand, RoleAdmin:
		return r
	default:
		return ""
	}
}

// Can reports whether the role holds the capability.
func (r Role) Can(c Capability) bool {
	if r == RoleAdmin {
		return true
	}
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}
