package ice

import (
	"crypto/rand"
	"encoding/binary"
)

// Role is the ICE controlling/controlled role, per spec.md §4.2 and
// original_source/talk/p2p/base/port.h's IceRole.
type Role int

const (
	RoleUnknown Role = iota
	RoleControlling
	RoleControlled
)

func (r Role) String() string {
	switch r {
	case RoleControlling:
		return "controlling"
	case RoleControlled:
		return "controlled"
	default:
		return "unknown"
	}
}

// newTiebreaker generates a random 64-bit tiebreaker value, used to resolve
// role conflicts when both peers believe they hold the same role.
func newTiebreaker() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("ice: failed to generate tiebreaker: " + err.Error())
	}
	return binary.BigEndian.Uint64(buf[:])
}

// resolveRoleConflict implements spec.md §4.2's tiebreaker rule: when both
// peers hold the same role, the larger tiebreaker wins and keeps its role;
// the loser must switch. Returns true if the local side must switch roles.
func resolveRoleConflict(sameRole bool, localTiebreaker, peerTiebreaker uint64) bool {
	if !sameRole {
		return false
	}
	return localTiebreaker < peerTiebreaker
}
