package rib

import (
	"sort"

	"github.com/orbisoperations/catalyst/internal/route"
)

// RouteUpdate is one route change a Propagation carries to a peer.
type RouteUpdate struct {
	Action   string // "add" | "remove"
	Route    route.DataChannelDefinition
	NodePath []string
}

// PropagationType distinguishes the four outbound message shapes. Only
// Update carries an Updates slice; Close carries Code/Reason; Open and
// Keepalive carry neither.
type PropagationType string

const (
	PropagationOpen      PropagationType = "open"
	PropagationClose     PropagationType = "close"
	PropagationKeepalive PropagationType = "keepalive"
	PropagationUpdate    PropagationType = "update"
)

// Propagation is one outbound protocol message a commit produces for one
// peer.
type Propagation struct {
	Type     PropagationType
	PeerName string
	Peer     route.PeerInfo // set for Open/Close/Keepalive
	Code     int            // Close only
	Reason   string         // Close only
	Updates  []RouteUpdate  // Update only
}

// bestRoute unifies a locally originated route and a learned best path
// under one shape, so the propagation diff doesn't need two code paths.
// Local routes carry PeerName "" and a NodePath of exactly the local
// node, matching how they are first announced to a fresh peer.
type bestRoute struct {
	PeerName string
	NodePath []string
	DCD      route.DataChannelDefinition
}

func combinedBest(cfg Config, t route.Table) map[route.Key]bestRoute {
	out := make(map[route.Key]bestRoute)
	for _, d := range t.Local.Routes {
		out[d.Key()] = bestRoute{PeerName: "", NodePath: []string{cfg.LocalNodeName}, DCD: d}
	}
	for _, key := range t.RouteKeys() {
		if _, isLocal := out[key]; isLocal {
			continue // a locally originated route always wins over a learned one
		}
		entry, ok := selectBestPath(t.CandidatesFor(key))
		if !ok {
			continue
		}
		out[key] = bestRoute{
			PeerName: entry.BestPath.PeerName,
			NodePath: entry.BestPath.NodePath,
			DCD:      entry.BestPath.DataChannelDefinition,
		}
	}
	return out
}

func bestRouteKeys(m map[route.Key]bestRoute) []route.Key {
	out := make([]route.Key, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// computePropagations diffs the winning route per key before and after
// an action and builds the set of peer-addressed add/remove updates that
// follow from it: a changed or vanished winner is withdrawn from every
// connected peer that isn't its origin or already on its path; a new or
// changed winner is re-advertised the same way, with the local node
// prepended onto a learned path (split horizon: a route is never sent
// back toward the peer it came from, nor to a peer already on its path).
// A winner whose peer is unchanged but whose nodePath or endpoint moved
// is re-advertised without a preceding withdrawal — the add upserts at
// the receiver, replacing the stale path in place.
// Output is sorted by peer name, so two commits that produce the same
// logical updates always propagate them in the same order.
func computePropagations(cfg Config, oldState, newState route.Table) []Propagation {
	oldBest := combinedBest(cfg, oldState)
	newBest := combinedBest(cfg, newState)
	keys := unionKeys(bestRouteKeys(oldBest), bestRouteKeys(newBest))

	var connected []string
	for _, p := range newState.Internal.Peers {
		if p.ConnectionStatus == route.StatusConnected {
			connected = append(connected, p.Name)
		}
	}

	perPeer := make(map[string][]RouteUpdate)
	for _, k := range keys {
		ob, oOk := oldBest[k]
		nb, nOk := newBest[k]
		peerChanged := oOk && nOk && ob.PeerName != nb.PeerName
		contentChanged := oOk && nOk && !peerChanged &&
			(!samePath(ob.NodePath, nb.NodePath) || ob.DCD.Endpoint != nb.DCD.Endpoint)

		if oOk && (!nOk || peerChanged) {
			for _, peer := range connected {
				if peer == ob.PeerName || route.ContainsNode(ob.NodePath, peer) {
					continue
				}
				perPeer[peer] = append(perPeer[peer], RouteUpdate{Action: "remove", Route: ob.DCD})
			}
		}
		if nOk && (!oOk || peerChanged || contentChanged) {
			outPath := outboundPath(cfg, nb)
			for _, peer := range connected {
				if peer == nb.PeerName || route.ContainsNode(outPath, peer) {
					continue
				}
				perPeer[peer] = append(perPeer[peer], RouteUpdate{
					Action:   "add",
					Route:    nb.DCD,
					NodePath: outPath,
				})
			}
		}
	}

	peers := make([]string, 0, len(perPeer))
	for p := range perPeer {
		peers = append(peers, p)
	}
	sort.Strings(peers)

	out := make([]Propagation, 0, len(peers))
	for _, p := range peers {
		out = append(out, Propagation{Type: PropagationUpdate, PeerName: p, Updates: perPeer[p]})
	}
	return out
}

// samePath reports whether two nodePaths are identical element for
// element.
func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// outboundPath returns the nodePath a winning route should carry when
// re-advertised onward: a learned route gets the local node prepended
// (split horizon bookkeeping); a locally originated route's path is
// already just [localNode] and needs no further prepending.
func outboundPath(cfg Config, b bestRoute) []string {
	if b.PeerName == "" {
		return b.NodePath
	}
	return append([]string{cfg.LocalNodeName}, b.NodePath...)
}

// fullSyncPropagation builds the full-table "update" a newly opened peer
// must receive: every currently winning route except ones that originate
// from peerName itself, loop-filtered the same way an incremental
// re-advertisement is.
func fullSyncPropagation(cfg Config, state route.Table, peerName string) Propagation {
	best := combinedBest(cfg, state)
	keys := bestRouteKeys(best)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Protocol < keys[j].Protocol
	})

	var updates []RouteUpdate
	for _, k := range keys {
		b := best[k]
		if b.PeerName == peerName {
			continue // never reflect a peer's own routes back to it
		}
		outPath := outboundPath(cfg, b)
		if route.ContainsNode(outPath, peerName) {
			continue
		}
		updates = append(updates, RouteUpdate{Action: "add", Route: b.DCD, NodePath: outPath})
	}
	return Propagation{Type: PropagationUpdate, PeerName: peerName, Updates: updates}
}
