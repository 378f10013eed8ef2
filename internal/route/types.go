// Package route holds the pure data model shared by the RIB: the set of
// locally originated services, known peers, and routes learned from them.
// Nothing in this package performs I/O or validation beyond simple equality
// and lookup helpers — the RIB owns the rules for when these types may
// change.
package route

// Protocol is the wire protocol a DataChannelDefinition is advertised over.
type Protocol string

const (
	ProtocolHTTP        Protocol = "http"
	ProtocolHTTPGraphQL Protocol = "http:graphql"
	ProtocolHTTPGQL     Protocol = "http:gql"
	ProtocolHTTPGRPC    Protocol = "http:grpc"
	ProtocolTCP         Protocol = "tcp"
)

// ValidProtocols lists every protocol tag the schema accepts.
var ValidProtocols = map[Protocol]bool{
	ProtocolHTTP:        true,
	ProtocolHTTPGraphQL: true,
	ProtocolHTTPGQL:     true,
	ProtocolHTTPGRPC:    true,
	ProtocolTCP:         true,
}

// Key identifies a service across the federation: the pair (name, protocol).
type Key struct {
	Name     string
	Protocol Protocol
}

// DataChannelDefinition is the unit of advertisement — a service this node
// (or some peer) originates.
type DataChannelDefinition struct {
	Name      string
	Protocol  Protocol
	Endpoint  string
	Region    string
	Tags      map[string]string
	EnvoyPort int // 0 until stamped by commit
}

// Key returns the route's identity for lookup and route-key purposes.
func (d DataChannelDefinition) Key() Key {
	return Key{Name: d.Name, Protocol: d.Protocol}
}

// PeerInfo is a peer's identity, immutable for the lifetime of a session.
type PeerInfo struct {
	Name         string
	Domains      []string
	Endpoint     string
	Labels       map[string]string
	PeerToken    string
	EnvoyAddress string
}

// ConnectionStatus is a PeerRecord's session lifecycle state.
type ConnectionStatus string

const (
	StatusInitializing ConnectionStatus = "initializing"
	StatusConnected    ConnectionStatus = "connected"
	StatusClosed       ConnectionStatus = "closed"
)

// PeerRecord is a PeerInfo plus its session state.
type PeerRecord struct {
	PeerInfo
	ConnectionStatus ConnectionStatus
	LastReceived     int64 // epoch millis
	LastSent         int64 // epoch millis
	HoldTime         int64 // seconds
	LastConnected    int64 // epoch millis
}

// DefaultHoldTimeSeconds is used when a peer record is created without an
// explicit hold time.
const DefaultHoldTimeSeconds = 60

// InternalRoute is a route learned from a peer.
type InternalRoute struct {
	DataChannelDefinition
	Peer     PeerInfo
	PeerName string
	// NodePath is non-empty; NodePath[0] is the immediate upstream peer
	// that advertised this route to us, and the last element is the
	// route's origin node.
	NodePath []string
}

// internalRouteKey identifies an InternalRoute within the peers-routes store:
// (peerName, name, protocol).
type internalRouteKey struct {
	PeerName string
	Name     string
	Protocol Protocol
}

func (r InternalRoute) internalKey() internalRouteKey {
	return internalRouteKey{PeerName: r.PeerName, Name: r.Name, Protocol: r.Protocol}
}

// ContainsNode reports whether path contains node, used for loop detection.
func ContainsNode(path []string, node string) bool {
	for _, n := range path {
		if n == node {
			return true
		}
	}
	return false
}

// LocRibEntry is the best-path decision record for one route key.
type LocRibEntry struct {
	BestPath        InternalRoute
	Alternatives    []InternalRoute
	SelectionReason string
}

const (
	ReasonOnlyCandidate = "only candidate"
	ReasonShortestPath  = "shortest nodePath"
)

// Local is the set of services this node originates.
type Local struct {
	Routes []DataChannelDefinition
}

// Internal is everything learned about peers and their advertised routes.
type Internal struct {
	Peers  []PeerRecord
	Routes []InternalRoute
}

// Table is the complete in-memory routing state. It is treated as
// copy-on-write: every mutating helper below returns a new Table value
// built from shallow copies of the backing slices, so a Table a caller
// still holds is never mutated out from under it.
type Table struct {
	Local    Local
	Internal Internal
}

// New returns an empty routing table.
func New() Table {
	return Table{}
}

// FindLocal returns the local route for key, if any.
func (t Table) FindLocal(key Key) (DataChannelDefinition, bool) {
	for _, r := range t.Local.Routes {
		if r.Key() == key {
			return r, true
		}
	}
	return DataChannelDefinition{}, false
}

// WithLocalUpserted returns a copy of t with route upserted into
// Local.Routes by its Key.
func (t Table) WithLocalUpserted(d DataChannelDefinition) Table {
	next := make([]DataChannelDefinition, 0, len(t.Local.Routes)+1)
	replaced := false
	for _, r := range t.Local.Routes {
		if r.Key() == d.Key() {
			next = append(next, d)
			replaced = true
			continue
		}
		next = append(next, r)
	}
	if !replaced {
		next = append(next, d)
	}
	t.Local.Routes = next
	return t
}

// WithLocalRemoved returns a copy of t with the (name, protocol) local
// route removed, and reports whether it was present.
func (t Table) WithLocalRemoved(key Key) (Table, bool) {
	next := make([]DataChannelDefinition, 0, len(t.Local.Routes))
	found := false
	for _, r := range t.Local.Routes {
		if r.Key() == key {
			found = true
			continue
		}
		next = append(next, r)
	}
	t.Local.Routes = next
	return t, found
}

// FindPeer returns the peer record named name, if any.
func (t Table) FindPeer(name string) (PeerRecord, bool) {
	for _, p := range t.Internal.Peers {
		if p.Name == name {
			return p, true
		}
	}
	return PeerRecord{}, false
}

// WithPeerUpserted returns a copy of t with rec upserted into
// Internal.Peers by name.
func (t Table) WithPeerUpserted(rec PeerRecord) Table {
	next := make([]PeerRecord, 0, len(t.Internal.Peers)+1)
	replaced := false
	for _, p := range t.Internal.Peers {
		if p.Name == rec.Name {
			next = append(next, rec)
			replaced = true
			continue
		}
		next = append(next, p)
	}
	if !replaced {
		next = append(next, rec)
	}
	t.Internal.Peers = next
	return t
}

// WithPeerRemoved returns a copy of t with the named peer record removed.
func (t Table) WithPeerRemoved(name string) Table {
	next := make([]PeerRecord, 0, len(t.Internal.Peers))
	for _, p := range t.Internal.Peers {
		if p.Name != name {
			next = append(next, p)
		}
	}
	t.Internal.Peers = next
	return t
}

// WithRoutesRemovedForPeer returns a copy of t with every InternalRoute
// whose PeerName == name removed, along with the removed routes.
func (t Table) WithRoutesRemovedForPeer(name string) (Table, []InternalRoute) {
	next := make([]InternalRoute, 0, len(t.Internal.Routes))
	var removed []InternalRoute
	for _, r := range t.Internal.Routes {
		if r.PeerName == name {
			removed = append(removed, r)
			continue
		}
		next = append(next, r)
	}
	t.Internal.Routes = next
	return t, removed
}

// WithInternalUpserted returns a copy of t with r upserted into
// Internal.Routes keyed by (peerName, name, protocol). Insertion order is
// preserved on replace (the new value takes the old slot) so that
// best-path tie-breaking by "first received" stays stable across
// re-advertisements that don't change content meaningfully; callers that
// want fresh tie-break order should remove then append.
func (t Table) WithInternalUpserted(r InternalRoute) Table {
	next := make([]InternalRoute, 0, len(t.Internal.Routes)+1)
	replaced := false
	for _, existing := range t.Internal.Routes {
		if existing.internalKey() == r.internalKey() {
			next = append(next, r)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, r)
	}
	t.Internal.Routes = next
	return t
}

// WithInternalRemoved returns a copy of t with the (peerName, name,
// protocol) internal route removed, and reports whether it was present.
func (t Table) WithInternalRemoved(peerName string, key Key) (Table, bool) {
	next := make([]InternalRoute, 0, len(t.Internal.Routes))
	found := false
	for _, r := range t.Internal.Routes {
		if r.PeerName == peerName && r.Name == key.Name && r.Protocol == key.Protocol {
			found = true
			continue
		}
		next = append(next, r)
	}
	t.Internal.Routes = next
	return t, found
}

// RouteKeys returns the distinct (name, protocol) keys present among
// Internal.Routes, in first-seen order.
func (t Table) RouteKeys() []Key {
	seen := make(map[Key]bool)
	var keys []Key
	for _, r := range t.Internal.Routes {
		k := r.Key()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// CandidatesFor returns, in stable insertion order, every InternalRoute
// sharing key.
func (t Table) CandidatesFor(key Key) []InternalRoute {
	var out []InternalRoute
	for _, r := range t.Internal.Routes {
		if r.Key() == key {
			out = append(out, r)
		}
	}
	return out
}
