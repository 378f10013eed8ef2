package rib

import "github.com/orbisoperations/catalyst/internal/route"

// ingressKey names the port-allocator slot for a locally originated route:
// the route's name alone, stable across commits so re-creating the same
// route recovers its port.
func ingressKey(key route.Key) string {
	return key.Name
}

// egressKey names the port-allocator slot for a route key's best path while
// it resolves via peerName. Re-keying on peer: a best-path change releases
// the old key and allocates a new one, even when the numeric port happens
// to come back the same.
func egressKey(key route.Key, peerName string) string {
	return "egress_" + key.Name + "_via_" + peerName
}
