package rest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouteKey(t *testing.T) {
	cases := []struct {
		name   string
		method string
		path   string
		want   string
	}{
		{
			name:   "ChannelKeepsSnowflake",
			method: "GET",
			path:   "/channels/123456789012345678/messages",
			want:   "GET /channels/123456789012345678/messages",
		},
		{
			name:   "MinorIDCollapses",
			method: "GET",
			path:   "/channels/123456789012345678/messages/876543210987654321",
			want:   "GET /channels/123456789012345678/messages/:id",
		},
		{
			name:   "MethodSplitsBuckets",
			method: "DELETE",
			path:   "/channels/123456789012345678/messages/876543210987654321",
			want:   "DELETE /channels/123456789012345678/messages/:id",
		},
		{
			name:   "UserIDCollapses",
			method: "GET",
			path:   "/users/123456789012345678",
			want:   "GET /users/:id",
		},
		{
			name:   "GuildKeepsSnowflake",
			method: "GET",
			path:   "/guilds/123456789012345678/members/876543210987654321",
			want:   "GET /guilds/123456789012345678/members/:id",
		},
		{
			name:   "ReactionEmojiCollapses",
			method: "PUT",
			path:   "/channels/123456789012345678/messages/876543210987654321/reactions/%F0%9F%98%80/@me",
			want:   "PUT /channels/123456789012345678/messages/:id/reactions/:id/:user",
		},
		{
			name:   "CustomEmojiCollapses",
			method: "DELETE",
			path:   "/channels/123456789012345678/messages/876543210987654321/reactions/party:555555555555555555/111111111111111111",
			want:   "DELETE /channels/123456789012345678/messages/:id/reactions/:id/:user",
		},
		{
			name:   "WebhookTokenCollapses",
			method: "POST",
			path:   "/webhooks/123456789012345678/aAbBcCdDeEfFgGhHiIjJkKlLmMnNoOpPqQrRsStTuUvVwWxXyYzZ0123456789_-",
			want:   "POST /webhooks/123456789012345678/:token",
		},
		{
			name:   "WebhookMessageEdit",
			method: "PATCH",
			path:   "/webhooks/123456789012345678/aAbBcCdDeEfFgGhHiIjJkKlLmMnNoOpPqQrRsStTuUvVwWxXyYzZ0123456789_-/messages/876543210987654321",
			want:   "PATCH /webhooks/123456789012345678/:token/messages/:id",
		},
		{
			name:   "QueryStringStripped",
			method: "GET",
			path:   "/channels/123456789012345678/messages?limit=50&after=876543210987654321",
			want:   "GET /channels/123456789012345678/messages",
		},
		{
			name:   "NoIDsUntouched",
			method: "GET",
			path:   "/gateway/bot",
			want:   "GET /gateway/bot",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, routeKey(tc.method, tc.path, nil))
		})
	}
}

func TestRouteKeyOverrides(t *testing.T) {
	extra := map[string]struct{}{"interactions": {}}

	require.Equal(t,
		"POST /interactions/123456789012345678/callbackToken/callback",
		routeKey("POST", "/interactions/123456789012345678/callbackToken/callback", extra),
	)

	// Without the override the interaction id collapses like any minor id.
	require.Equal(t,
		"POST /interactions/:id/callbackToken/callback",
		routeKey("POST", "/interactions/123456789012345678/callbackToken/callback", nil),
	)
}
