package ecs

import (
	"fmt"
	"time"

	"github.com/stormsync/stormsync/internal/core/mathx"
)

// ValidatedState is the last server-validated motion state for a
// client-authoritative entity. It is the basis for the next outgoing
// reconciliation snapshot.
type ValidatedState struct {
	Position  mathx.Vec3
	Velocity  mathx.Vec3
	Timestamp time.Time
}

// Network marks an entity as replicated and records who owns it and which
// side's simulation is authoritative for it.
type Network struct {
	// NetworkID is stable across reconnects; entities are addressed by it on
	// the wire, never by their registry id.
	NetworkID string

	// Owner is the client id of the controlling peer, empty for
	// server-owned entities.
	Owner string

	Authority Authority

	// LastProcessedInputSeq is the highest input sequence the authoritative
	// side has applied for this entity.
	LastProcessedInputSeq uint32

	LastValidatedState ValidatedState
}

func NewNetwork(networkID string, authority Authority) *Network {
	return &Network{NetworkID: networkID, Authority: authority}
}

func (n *Network) Kind() ComponentKind { return KindNetwork }

func (n *Network) Validate() error {
	if n.NetworkID == "" {
		return fmt.Errorf("%w: empty network id", ErrInvalidComponent)
	}
	if n.Authority > AuthorityClient {
		return fmt.Errorf("%w: authority %d", ErrInvalidComponent, n.Authority)
	}
	if !n.LastValidatedState.Position.IsFinite() || !n.LastValidatedState.Velocity.IsFinite() {
		return fmt.Errorf("%w: validated state has non-finite fields", ErrInvalidComponent)
	}
	return nil
}

func (n *Network) Clone() Component {
	c := *n
	return &c
}

func (n *Network) Serialize() Patch {
	return Patch{
		"networkId":             n.NetworkID,
		"owner":                 n.Owner,
		"authority":             n.Authority,
		"lastProcessedInputSeq": n.LastProcessedInputSeq,
		"lastValidatedState":    n.LastValidatedState,
	}
}

func (n *Network) Deserialize(p Patch) error {
	if v, ok := p["networkId"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: networkId", ErrInvalidPatch)
		}
		n.NetworkID = s
	}
	if v, ok := p["owner"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: owner", ErrInvalidPatch)
		}
		n.Owner = s
	}
	if v, ok := p["authority"]; ok {
		a, ok := v.(Authority)
		if !ok {
			return fmt.Errorf("%w: authority", ErrInvalidPatch)
		}
		n.Authority = a
	}
	if v, ok := p["lastProcessedInputSeq"]; ok {
		s, ok := v.(uint32)
		if !ok {
			return fmt.Errorf("%w: lastProcessedInputSeq", ErrInvalidPatch)
		}
		n.LastProcessedInputSeq = s
	}
	if v, ok := p["lastValidatedState"]; ok {
		s, ok := v.(ValidatedState)
		if !ok {
			return fmt.Errorf("%w: lastValidatedState", ErrInvalidPatch)
		}
		n.LastValidatedState = s
	}
	return n.Validate()
}
