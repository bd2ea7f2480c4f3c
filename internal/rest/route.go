package rest

import (
	"regexp"
	"strings"
)

// Major resources keep their snowflake in the bucket key: the API
// partitions quotas per channel, guild, and webhook, while every other
// resource shares one bucket per route shape.
var majorResources = map[string]struct{}{
	"channels": {},
	"guilds":   {},
	"webhooks": {},
}

var (
	idSegment    = regexp.MustCompile(`/([a-z-]+)/[0-9]{17,19}`)
	reactionTail = regexp.MustCompile(`/reactions/[^/?]+`)
	reactionUser = regexp.MustCompile(`/reactions/:id/[^/?]+`)
	webhookToken = regexp.MustCompile(`(/webhooks/[0-9]+)/[A-Za-z0-9\-_]{60,}`)
)

// routeKey derives the bucket discriminator for a request: the method
// plus the path with minor snowflakes collapsed. extra names resources
// beyond the built-in majors that also bucket per resource.
func routeKey(method, path string, extra map[string]struct{}) string {
	route := path
	if i := strings.IndexByte(route, '?'); i >= 0 {
		route = route[:i]
	}
	route = webhookToken.ReplaceAllString(route, "$1/:token")
	route = idSegment.ReplaceAllStringFunc(route, func(seg string) string {
		name := seg[1:strings.LastIndexByte(seg, '/')]
		if _, ok := majorResources[name]; ok {
			return seg
		}
		if _, ok := extra[name]; ok {
			return seg
		}
		return "/" + name + "/:id"
	})
	route = reactionTail.ReplaceAllString(route, "/reactions/:id")
	route = reactionUser.ReplaceAllString(route, "/reactions/:id/:user")
	return method + " " + route
}
