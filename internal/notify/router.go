package notify

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

// Route sends matching alerts to a channel and address. An empty Domain
// matches every domain; MinTier matches that tier and above.
type Route struct {
	Domain  urgency.Domain
	MinTier urgency.Tier
	Channel string
	Address string
}

func (r Route) matches(domain urgency.Domain, tier urgency.Tier) bool {
	if r.Domain != "" && r.Domain != domain {
		return false
	}
	return tier.Rank() >= r.MinTier.Rank()
}

// Router picks the destination for an alert. Routes are tried in order; the
// default channel takes everything else.
type Router struct {
	routes         []Route
	defaultChannel string
}

// NewRouter creates a router with a fallback channel.
func NewRouter(defaultChannel string, routes ...Route) *Router {
	return &Router{routes: routes, defaultChannel: defaultChannel}
}

// Resolve returns the channel name and address for (domain, tier).
func (r *Router) Resolve(domain urgency.Domain, tier urgency.Tier) (channel, address string) {
	for _, rt := range r.routes {
		if rt.matches(domain, tier) {
			return rt.Channel, rt.Address
		}
	}
	return r.defaultChannel, ""
}

// channels lists every channel name the router can return.
func (r *Router) channels() []string {
	out := []string{r.defaultChannel}
	for _, rt := range r.routes {
		out = append(out, rt.Channel)
	}
	return out
}

// ParseRoute parses "domain:min_tier=channel[@address]". Use "*" for any domain.
func ParseRoute(s string) (Route, error) {
	match, dest, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return Route{}, fmt.Errorf("route %q: missing '='", s)
	}
	domain, tierStr, ok := strings.Cut(match, ":")
	if !ok {
		return Route{}, fmt.Errorf("route %q: want domain:min_tier", s)
	}
	tier, ok := urgency.ParseTier(tierStr)
	if !ok || !tier.Valid() {
		return Route{}, fmt.Errorf("route %q: unknown tier %q", s, tierStr)
	}
	channel, address, _ := strings.Cut(dest, "@")
	if channel == "" {
		return Route{}, fmt.Errorf("route %q: empty channel", s)
	}

	r := Route{MinTier: tier, Channel: channel, Address: address}
	if domain != "*" {
		r.Domain = urgency.Domain(domain)
	}
	return r, nil
}

// ParseRoutes parses a comma-separated route list. Empty input yields no routes.
// Addresses cannot contain commas; such a list fails to parse.
func ParseRoutes(s string) ([]Route, error) {
	var out []Route
	for part := range strings.SplitSeq(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := ParseRoute(part)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
