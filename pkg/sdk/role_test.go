package sdk_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in     string
		want   sdk.Role
		wantOK bool
	}{
		{"admin", sdk.RoleAdmin, true},
		{"ADMIN", sdk.RoleAdmin, true},
		{" moderator\n", sdk.RoleModerator, true},
		{"user", sdk.RoleUser, true},
		{"guest", sdk.RoleGuest, true},
		{"editor", sdk.RoleGuest, false},
		{"", sdk.RoleGuest, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := sdk.ParseRole(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRole_TextEncoding(t *testing.T) {
	data, err := json.Marshal(map[string]sdk.Role{"role": sdk.RoleModerator})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"moderator"}`, string(data))

	_, err = json.Marshal(sdk.Role(7))
	assert.Error(t, err)

	var r sdk.Role
	require.NoError(t, json.Unmarshal([]byte(`"Admin"`), &r))
	assert.Equal(t, sdk.RoleAdmin, r)
	assert.Error(t, json.Unmarshal([]byte(`"root"`), &r))
}

func TestRoleCacheEntry_Expired(t *testing.T) {
	resolved := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := sdk.RoleCacheEntry{PrincipalKey: "a@b.c", Role: sdk.RoleUser, ResolvedAt: resolved}

	assert.False(t, entry.Expired(resolved.Add(time.Minute-1), time.Minute))
	assert.True(t, entry.Expired(resolved.Add(time.Minute), time.Minute))
	assert.False(t, entry.Expired(resolved.Add(24*time.Hour), -1), "non-positive TTL never expires")

	entry.TTL = time.Second
	assert.True(t, entry.Expired(resolved.Add(time.Second), time.Hour), "entry TTL overrides the default")
}
