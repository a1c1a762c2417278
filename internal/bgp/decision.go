package bgp

// decision.go implements the §4.8 Decision Process: "the attributes of the
// selected Adj-RIB-In entry compare <= every other Adj-RIB-In entry for
// that prefix under the decision ordering" (spec §8 invariant 4).
// The teacher's bgp/update.go left this as a "// TODO: Run the decision process" comment
// above the RFC 4271 9.1.2 quotes; this is the actual decision process,
// filling in those TODOs.

// Better reports whether a is preferred over b under spec §4.8's
// 9-step ordering. localAS/localRouterID are this speaker's own values;
// no step reads them: "prefer locally originated" is decided by
// Source == SourceLocal, and the final tiebreak compares the two routes'
// peer router-ids and peer addresses. igpMetric supplies the IGP distance to a route's NEXT_HOP
// (step 7); when unknown, equal metrics are assumed (no tiebreak there).
func Better(a, b *Route, localAS ASN, localRouterID Identifier, igpMetric func(*Route) uint32) bool {
	// 1. Higher LOCAL_PREF.
	if ap, bp := localPref(a), localPref(b); ap != bp {
		return ap > bp
	}
	// 2. Prefer locally originated.
	aLocal, bLocal := a.Source == SourceLocal, b.Source == SourceLocal
	if aLocal != bLocal {
		return aLocal
	}
	// 3. Shorter AS_PATH.
	if al, bl := a.Attrs.ASPathLength(), b.Attrs.ASPathLength(); al != bl {
		return al < bl
	}
	// 4. Lower ORIGIN (IGP < EGP < Incomplete).
	if a.Attrs.Origin != b.Attrs.Origin {
		return a.Attrs.Origin < b.Attrs.Origin
	}
	// 5. Lower MED, only compared within the same neighboring (first) AS.
	if neighborAS(a) == neighborAS(b) {
		am, bm := medOf(a), medOf(b)
		if am != bm {
			return am < bm
		}
	}
	// 6. eBGP over iBGP.
	aEBGP, bEBGP := a.Source == SourceEBGP, b.Source == SourceEBGP
	if aEBGP != bEBGP {
		return aEBGP
	}
	// 7. Lower IGP metric to NEXT_HOP.
	if igpMetric != nil {
		am, bm := igpMetric(a), igpMetric(b)
		if am != bm {
			return am < bm
		}
	}
	// 8. Oldest established route (stability tiebreak).
	if !a.Since.Equal(b.Since) {
		return a.Since.Before(b.Since)
	}
	// 9. Lowest peer router-id, then lowest peer address.
	if a.PeerRouterID != b.PeerRouterID {
		return a.PeerRouterID < b.PeerRouterID
	}
	return a.PeerAddr.Compare(b.PeerAddr) < 0
}

func localPref(r *Route) uint32 {
	if r.Attrs.HasLocalPref {
		return r.Attrs.LocalPref
	}
	return 100 // RFC 4271 default LOCAL_PREF for routes without one
}

func medOf(r *Route) uint32 {
	if r.Attrs.HasMED {
		return r.Attrs.MED
	}
	return 0
}

// neighborAS returns the left-most (first-hop) AS in AS_PATH, the "same
// neighboring AS" MED comparability rule of spec §4.8 step 5.
func neighborAS(r *Route) ASN {
	for _, seg := range r.Attrs.ASPath {
		if len(seg.ASNs) > 0 {
			return seg.ASNs[0]
		}
	}
	return 0
}

// SelectBest runs the Decision Process over every candidate for one
// prefix and returns the winner, or nil if candidates is empty.
func SelectBest(candidates []*Route, localAS ASN, localRouterID Identifier, igpMetric func(*Route) uint32) *Route {
	var best *Route
	for _, c := range candidates {
		if best == nil || Better(c, best, localAS, localRouterID, igpMetric) {
			best = c
		}
	}
	return best
}
