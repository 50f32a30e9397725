// Package ipfilter matches client IPs against configured CIDR allow/block
// lists per spec §4.1: allow takes precedence over block.
package ipfilter

import (
	"net"

	"github.com/yatagarasu/yatagarasu/internal/config"
)

// Filter is a compiled allow/block CIDR list.
type Filter struct {
	allow []*net.IPNet
	block []*net.IPNet
}

// New compiles cfg's CIDR strings. Malformed entries are skipped silently;
// internal/config does not check CIDR syntax, so such an entry matches no
// address.
func New(cfg *config.IPFilterConfig) *Filter {
	f := &Filter{}
	if cfg == nil {
		return f
	}
	f.allow = compileAll(cfg.Allow)
	f.block = compileAll(cfg.Block)
	return f
}

func compileAll(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipNet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// Allowed reports whether ip may proceed. An IP matching the allow list is
// always permitted, even if it also matches the block list — allow wins
// per spec §4.1. Absent any allow match, a block-list match rejects the IP.
// With both lists empty, every IP is allowed.
func (f *Filter) Allowed(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if matchesAny(f.allow, ip) {
		return true
	}
	if len(f.block) == 0 {
		return true
	}
	return !matchesAny(f.block, ip)
}

func matchesAny(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
