package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "SKYLINE", JoinPath("", "SKYLINE"))
	assert.Equal(t, "SKYLINE.ADMIN", JoinPath("SKYLINE", "ADMIN"))
	assert.Equal(t, "SKYLINE.ADMIN.USERS", JoinPath("SKYLINE.ADMIN", "USERS"))
}

func TestSiblingPath(t *testing.T) {
	assert.Equal(t, "SKYLINE.EDITOR", siblingPath("SKYLINE.ADMIN", "EDITOR"))
	assert.Equal(t, "A.B.X", siblingPath("A.B.C", "X"))
	assert.Equal(t, "EDITOR", siblingPath("ADMIN", "EDITOR"))
}
