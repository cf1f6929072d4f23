package rest

import (
	"net/http"
	"net/url"
	"strings"
)

type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPatch  Method = http.MethodPatch
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
)

// Route is a method plus a path template such as
// "/channels/{channel_id}/messages".
type Route struct {
	Method   Method
	Template string
}

func NewRoute(method Method, template string) Route {
	return Route{Method: method, Template: template}
}

func (r Route) String() string { return string(r.Method) + " " + r.Template }

// Major parameters scope a bucket to a single resource.
var majorParams = []string{"channel_id", "guild_id", "webhook_id"}

var (
	RouteGatewayBot         = NewRoute(MethodGet, "/gateway/bot")
	RouteGetCurrentUser     = NewRoute(MethodGet, "/users/@me")
	RouteGetUser            = NewRoute(MethodGet, "/users/{user_id}")
	RouteGetGuild           = NewRoute(MethodGet, "/guilds/{guild_id}")
	RouteGetGuildChannels   = NewRoute(MethodGet, "/guilds/{guild_id}/channels")
	RouteGetGuildRoles      = NewRoute(MethodGet, "/guilds/{guild_id}/roles")
	RouteGetGuildMember     = NewRoute(MethodGet, "/guilds/{guild_id}/members/{user_id}")
	RouteGetChannel         = NewRoute(MethodGet, "/channels/{channel_id}")
	RouteModifyChannel      = NewRoute(MethodPatch, "/channels/{channel_id}")
	RouteDeleteChannel      = NewRoute(MethodDelete, "/channels/{channel_id}")
	RouteGetMessage         = NewRoute(MethodGet, "/channels/{channel_id}/messages/{message_id}")
	RouteCreateMessage      = NewRoute(MethodPost, "/channels/{channel_id}/messages")
	RouteEditMessage        = NewRoute(MethodPatch, "/channels/{channel_id}/messages/{message_id}")
	RouteDeleteMessage      = NewRoute(MethodDelete, "/channels/{channel_id}/messages/{message_id}")
	RouteAddMemberRole      = NewRoute(MethodPut, "/guilds/{guild_id}/members/{user_id}/roles/{role_id}")
	RouteExecuteWebhook     = NewRoute(MethodPost, "/webhooks/{webhook_id}/{webhook_token}")
	RouteCreateReaction     = NewRoute(MethodPut, "/channels/{channel_id}/messages/{message_id}/reactions/{emoji}/@me")
	RouteTriggerTyping      = NewRoute(MethodPost, "/channels/{channel_id}/typing")
	RouteModifyGuildMember  = NewRoute(MethodPatch, "/guilds/{guild_id}/members/{user_id}")
	RouteRemoveGuildMember  = NewRoute(MethodDelete, "/guilds/{guild_id}/members/{user_id}")
	RouteCreateGuildChannel = NewRoute(MethodPost, "/guilds/{guild_id}/channels")
)

// Request is a single API call. Body is JSON encoded unless it is a []byte.
type Request struct {
	Route   Route
	Params  map[string]string
	Query   url.Values
	Body    any
	Headers http.Header
	// Reason ends up in the audit log of the affected guild.
	Reason string
}

func NewRequest(route Route, params ...string) *Request {
	r := &Request{Route: route, Params: make(map[string]string, len(params)/2)}
	for i := 0; i+1 < len(params); i += 2 {
		r.Params[params[i]] = params[i+1]
	}
	return r
}

func (r *Request) WithBody(body any) *Request {
	r.Body = body
	return r
}

func (r *Request) WithQuery(q url.Values) *Request {
	r.Query = q
	return r
}

func (r *Request) WithReason(reason string) *Request {
	r.Reason = reason
	return r
}

// Path substitutes the route parameters into the template.
func (r *Request) Path() (string, error) {
	var (
		sb  strings.Builder
		tpl = r.Route.Template
	)
	for {
		open := strings.IndexByte(tpl, '{')
		if open < 0 {
			sb.WriteString(tpl)
			break
		}
		end := strings.IndexByte(tpl[open:], '}')
		if end < 0 {
			return "", &Error{Kind: KindMalformed, Route: r.Route, Message: "unterminated parameter in template"}
		}
		name := tpl[open+1 : open+end]
		val, ok := r.Params[name]
		if !ok || val == "" {
			return "", &Error{Kind: KindMalformed, Route: r.Route, Message: "missing parameter " + name, Err: ErrMissingParam}
		}
		sb.WriteString(tpl[:open])
		sb.WriteString(url.PathEscape(val))
		tpl = tpl[open+end+1:]
	}
	if len(r.Query) > 0 {
		sb.WriteByte('?')
		sb.WriteString(r.Query.Encode())
	}
	return sb.String(), nil
}

// BucketKey identifies the rate limit bucket a request counts against.
type BucketKey struct {
	Route Route
	Major string
}

func (k BucketKey) String() string {
	if k.Major == "" {
		return k.Route.String()
	}
	return k.Route.String() + ":" + k.Major
}

func (r *Request) BucketKey() BucketKey {
	k := BucketKey{Route: r.Route}
	for _, p := range majorParams {
		if v, ok := r.Params[p]; ok && strings.Contains(r.Route.Template, "{"+p+"}") {
			k.Major = v
			break
		}
	}
	return k
}
