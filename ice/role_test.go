package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoleConflictNoConflictWhenRolesDiffer(t *testing.T) {
	assert.False(t, resolveRoleConflict(false, 1, 100))
}

func TestResolveRoleConflictLowerTiebreakerSwitches(t *testing.T) {
	assert.True(t, resolveRoleConflict(true, 1, 100))
	assert.False(t, resolveRoleConflict(true, 100, 1))
}

func TestNewTiebreakerIsRandom(t *testing.T) {
	a := newTiebreaker()
	b := newTiebreaker()
	assert.NotEqual(t, a, b)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "controlling", RoleControlling.String())
	assert.Equal(t, "controlled", RoleControlled.String())
	assert.Equal(t, "unknown", RoleUnknown.String())
}
