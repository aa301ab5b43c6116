package platform

import (
	"context"
	"discord-moderation/cooldown"
	"discord-moderation/model"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfig struct{ settings model.GuildSettings }

func (c staticConfig) Guild(guildID string) model.GuildSettings { return c.settings }

func (c staticConfig) PrivilegeTier(ctx context.Context, guildID, userID string) (int, error) {
	return 0, nil
}

func TestResolveMemberUsesCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d := NewDiscord(nil, staticConfig{}, 10)

	d.members.Add(memberKey("g1", "u1"), memberEntry{member: &model.Member{UserID: "u1", Roles: []string{"r1"}}})
	d.members.Add(memberKey("g1", "gone"), memberEntry{})

	m, err := d.ResolveMember(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal([]string{"r1"}, m.Roles)

	m, err = d.ResolveMember(ctx, "g1", "gone")
	assert.NoError(err)
	assert.Nil(m)
}

func TestApplyWithoutPlatformCall(t *testing.T) {
	ctx := context.Background()
	d := NewDiscord(nil, staticConfig{}, 10)

	assert.NoError(t, d.ApplySanction(ctx, "g1", "u1", model.Warning, "spam"))
	assert.Error(t, d.ApplySanction(ctx, "g1", "u1", model.Mute, "spam"))
	assert.Error(t, d.ApplySanction(ctx, "g1", "u1", model.Unban, "spam"))
	assert.Error(t, d.RevokeSanction(ctx, "g1", "u1", model.Kick, "spam"))
}

func TestIsNotFound(t *testing.T) {
	notFound := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}

	assert.True(t, isNotFound(notFound))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", notFound)))
	assert.False(t, isNotFound(forbidden))
	assert.False(t, isNotFound(fmt.Errorf("boom")))
}

func conflict() cooldown.ConfirmationRequest {
	return cooldown.ConfirmationRequest{
		GuildID:     "g1",
		ModeratorID: "modB",
		Conflicting: model.HotInfraction{
			Infraction: model.Infraction{UserID: "u1", IssuerID: "modA", Type: model.Warning, Reason: "spam"},
			RecordedAt: time.Unix(1700000000, 0),
		},
	}
}

func TestResolvePendingPrompt(t *testing.T) {
	assert := assert.New(t)
	p := NewPrompter(nil)

	token, ch := p.register(conflict())
	answer, matched := p.resolve(confirmPrefix + token)
	assert.True(matched)
	assert.True(answer)
	assert.True(<-ch)

	// Answers only count once.
	_, matched = p.resolve(confirmPrefix + token)
	assert.False(matched)

	token, ch = p.register(conflict())
	answer, matched = p.resolve(cancelPrefix + token)
	assert.True(matched)
	assert.False(answer)
	assert.False(<-ch)

	token, _ = p.register(conflict())
	p.forget(token)
	_, matched = p.resolve(confirmPrefix + token)
	assert.False(matched)

	_, matched = p.resolve("something_else")
	assert.False(matched)
}

func TestConfirmationText(t *testing.T) {
	text := confirmationText(conflict())
	assert.Contains(t, text, "<@u1> already received a warning from <@modA>")
	assert.Contains(t, text, "<t:1700000000:R>")
	assert.Contains(t, text, "(spam)")
}
