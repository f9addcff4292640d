package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserSetAndValidatePassword(t *testing.T) {
	u := &User{Username: "admin"}

	require.NoError(t, u.SetPassword("correct-horse-battery-staple"))
	assert.NotEqual(t, "correct-horse-battery-staple", u.Password)

	assert.NoError(t, u.ValidatePassword("correct-horse-battery-staple"))
	assert.Error(t, u.ValidatePassword("wrong-password"))
}

func TestUserHasRole(t *testing.T) {
	u := &User{Roles: []string{"admin", "teacher"}}

	assert.True(t, u.HasRole("admin"))
	assert.False(t, u.HasRole("student"))
}
