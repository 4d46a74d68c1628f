package network

import (
	"fmt"

	"github.com/libp2p/go-libp2p-core/host"
	libp2ppeer "github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/fedvault/node/internal/validator"
)

// PeerMap resolves between validator IDs and libp2p peer IDs using each
// validator's advertised multiaddr (the `allowed_peers` "address" field,
// spec §6), grounded on the resolveAddresses/AddrInfosFromP2pAddrs pair in
// lp2p/addrutil.go, minus the DNS resolution step this node's static,
// operator-curated peer list doesn't need.
type PeerMap struct {
	toPeer      map[validator.ID]libp2ppeer.ID
	toValidator map[libp2ppeer.ID]validator.ID
	addrs       map[libp2ppeer.ID][]ma.Multiaddr
}

// NewPeerMap builds a PeerMap from the canonical validator set and each
// member's advertised libp2p multiaddr (e.g.
// "/ip4/10.0.0.2/tcp/9000/p2p/Qm..."). Members with no configured address
// (typically this node's own entry, dialled by no one) are skipped.
func NewPeerMap(members []*validator.Info, addressByID map[validator.ID]string) (*PeerMap, error) {
	pm := &PeerMap{
		toPeer:      make(map[validator.ID]libp2ppeer.ID),
		toValidator: make(map[libp2ppeer.ID]validator.ID),
		addrs:       make(map[libp2ppeer.ID][]ma.Multiaddr),
	}
	for _, m := range members {
		raw, ok := addressByID[m.ID]
		if !ok || raw == "" {
			continue
		}
		maddr, err := ma.NewMultiaddr(raw)
		if err != nil {
			return nil, fmt.Errorf("network: parsing multiaddr for %s: %w", m.Name, err)
		}
		info, err := libp2ppeer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("network: resolving peer id for %s (address must end in /p2p/<id>): %w", m.Name, err)
		}
		pm.toPeer[m.ID] = info.ID
		pm.toValidator[info.ID] = m.ID
		pm.addrs[info.ID] = info.Addrs
	}
	return pm, nil
}

// Resolve implements the resolver signature NewLibP2P expects.
func (pm *PeerMap) Resolve(id validator.ID) (libp2ppeer.ID, error) {
	p, ok := pm.toPeer[id]
	if !ok {
		return "", fmt.Errorf("network: no libp2p peer registered for validator %s", id)
	}
	return p, nil
}

// ReverseResolve implements the reverseLookup signature NewLibP2P expects.
func (pm *PeerMap) ReverseResolve(p libp2ppeer.ID) (validator.ID, error) {
	id, ok := pm.toValidator[p]
	if !ok {
		return "", fmt.Errorf("network: no validator registered for libp2p peer %s", p)
	}
	return id, nil
}

// RegisterWithHost seeds h's peerstore with every known peer's advertised
// addresses, so SendDirect's h.NewStream can dial them without a prior
// discovery step.
func (pm *PeerMap) RegisterWithHost(h host.Host) {
	for p, addrs := range pm.addrs {
		h.Peerstore().AddAddrs(p, addrs, peerstore.PermanentAddrTTL)
	}
}
