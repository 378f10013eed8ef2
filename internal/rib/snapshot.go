package rib

import (
	"fmt"

	"github.com/orbisoperations/catalyst/internal/route"
)

// Listener is one Envoy-style listener the dataplane snapshot describes:
// either the ingress side of a locally originated route, or the egress
// side of a route key's current best path.
type Listener struct {
	Name     string
	Port     int
	Protocol route.Protocol
}

// Cluster is one upstream the dataplane snapshot describes, keyed by a
// distinct endpoint so two routes sharing an endpoint collapse to one
// cluster.
type Cluster struct {
	Name     string
	Endpoint string
}

// DataplaneSnapshot is the authoritative listener/cluster set a
// DataplaneSink receives after a commit. Version increments once per
// commit that changed the route table in a way visible here (see
// RIB.commit), never on a no-op commit, so a sink can cheaply detect
// "nothing to do."
type DataplaneSnapshot struct {
	Version   int64
	Listeners []Listener
	Clusters  []Cluster
}

func buildSnapshot(state route.Table, locRib map[route.Key]route.LocRibEntry, version int64) DataplaneSnapshot {
	snap := DataplaneSnapshot{Version: version}
	seenEndpoint := make(map[string]bool)

	for _, d := range state.Local.Routes {
		snap.Listeners = append(snap.Listeners, Listener{
			Name:     fmt.Sprintf("ingress:%s:%s", d.Name, d.Protocol),
			Port:     d.EnvoyPort,
			Protocol: d.Protocol,
		})
		if d.Endpoint != "" && !seenEndpoint[d.Endpoint] {
			seenEndpoint[d.Endpoint] = true
			snap.Clusters = append(snap.Clusters, Cluster{Name: fmt.Sprintf("local:%s", d.Name), Endpoint: d.Endpoint})
		}
	}

	for _, key := range state.RouteKeys() {
		entry, ok := locRib[key]
		if !ok {
			continue
		}
		bp := entry.BestPath
		snap.Listeners = append(snap.Listeners, Listener{
			Name:     fmt.Sprintf("egress:%s:%s:%s", bp.Name, bp.Protocol, bp.PeerName),
			Port:     bp.EnvoyPort,
			Protocol: bp.Protocol,
		})
		if bp.Endpoint != "" && !seenEndpoint[bp.Endpoint] {
			seenEndpoint[bp.Endpoint] = true
			snap.Clusters = append(snap.Clusters, Cluster{Name: fmt.Sprintf("peer:%s:%s", bp.PeerName, bp.Name), Endpoint: bp.Endpoint})
		}
	}
	return snap
}
