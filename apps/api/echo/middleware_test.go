package echoapi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/didisacademy/academy/core/user"
)

func Test_hasAnyRole(t *testing.T) {
	tests := []struct {
		name   string
		held   []string
		wanted []string
		want   bool
	}{
		{"any admin", []string{user.RoleAdminContent}, nil, true},
		{"match", []string{user.RoleAdminContent, user.RoleAdminOwner}, []string{user.RoleAdminOwner}, true},
		{"no match", []string{user.RoleAdminContent}, []string{user.RoleAdminOwner}, false},
		{"no roles", nil, []string{user.RoleAdminOwner}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			held := append([]string(nil), tt.held...)
			assert.Equal(t, tt.want, hasAnyRole(held, tt.wanted))
			assert.Equal(t, tt.held, held, "claims are left untouched")
		})
	}
}
