package ledger

import (
	"discord-moderation/model"
	"fmt"
	"strings"
	"time"
)

var noticeVerbs = map[model.InfractionType]string{
	model.Warning:         "received a warning",
	model.MessageDeletion: "had a message deleted",
	model.TemporaryMute:   "been muted",
	model.Mute:            "been muted",
	model.Kick:            "been kicked",
	model.TemporaryBan:    "been banned",
	model.Ban:             "been banned",
	model.Unmute:          "been unmuted",
	model.Unban:           "been unbanned",
}

// noticeText renders the private message sent to a sanctioned user.
func noticeText(inf *model.Infraction) string {
	verb, ok := noticeVerbs[inf.Type]
	if !ok {
		verb = "received an infraction"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %s (case #%d).", verb, inf.ID)
	if inf.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", inf.Reason)
	}
	if inf.RuleText != "" {
		fmt.Fprintf(&b, "\nRule broken: %s", inf.RuleText)
	}
	if inf.ExpiresAt != nil {
		fmt.Fprintf(&b, "\nExpires: %s", inf.ExpiresAt.UTC().Format(time.RFC1123))
	}
	return b.String()
}
