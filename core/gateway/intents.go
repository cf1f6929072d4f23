package gateway

import (
	"fmt"
	"strings"
)

// Intents select which events the gateway sends.
type Intents uint64

const (
	IntentGuilds Intents = 1 << iota
	IntentGuildMembers
	IntentGuildModeration
	IntentGuildExpressions
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
	IntentGuildScheduledEvents
)

const (
	// IntentsPrivileged need to be enabled for the application first.
	IntentsPrivileged = IntentGuildMembers | IntentGuildPresences | IntentMessageContent

	IntentsNonPrivileged = IntentGuilds | IntentGuildModeration | IntentGuildExpressions |
		IntentGuildIntegrations | IntentGuildWebhooks | IntentGuildInvites |
		IntentGuildVoiceStates | IntentGuildMessages | IntentGuildMessageReactions |
		IntentGuildMessageTyping | IntentDirectMessages | IntentDirectMessageReactions |
		IntentDirectMessageTyping | IntentGuildScheduledEvents
)

func (i Intents) Has(o Intents) bool { return i&o == o }

var intentNames = map[string]Intents{
	"guilds":                   IntentGuilds,
	"guild_members":            IntentGuildMembers,
	"guild_moderation":         IntentGuildModeration,
	"guild_expressions":        IntentGuildExpressions,
	"guild_integrations":       IntentGuildIntegrations,
	"guild_webhooks":           IntentGuildWebhooks,
	"guild_invites":            IntentGuildInvites,
	"guild_voice_states":       IntentGuildVoiceStates,
	"guild_presences":          IntentGuildPresences,
	"guild_messages":           IntentGuildMessages,
	"guild_message_reactions":  IntentGuildMessageReactions,
	"guild_message_typing":     IntentGuildMessageTyping,
	"direct_messages":          IntentDirectMessages,
	"direct_message_reactions": IntentDirectMessageReactions,
	"direct_message_typing":    IntentDirectMessageTyping,
	"message_content":          IntentMessageContent,
	"guild_scheduled_events":   IntentGuildScheduledEvents,
	"non_privileged":           IntentsNonPrivileged,
	"privileged":               IntentsPrivileged,
}

// ParseIntents ors together intents given by snake_case name, e.g.
// "guild_messages". "privileged" and "non_privileged" name the groups.
func ParseIntents(names []string) (Intents, error) {
	var out Intents
	for _, n := range names {
		i, ok := intentNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown intent %q", n)
		}
		out |= i
	}
	return out, nil
}
