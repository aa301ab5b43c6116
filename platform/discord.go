// Package platform applies sanctions on Discord and talks to users and moderators there.
package platform

import (
	"context"
	"discord-moderation/model"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	memberCacheSize = 4096
	memberCacheTTL  = 5 * time.Minute
)

// memberEntry caches a lookup. A nil member records that the user is not in the guild.
type memberEntry struct {
	member *model.Member
}

// Discord implements model.Platform over a discordgo session.
type Discord struct {
	session *discordgo.Session
	cfg     model.ConfigProvider
	limiter *rate.Limiter
	members *expirable.LRU[string, memberEntry]
	now     func() time.Time
}

var _ model.Platform = (*Discord)(nil)

// NewDiscord creates the adapter. Member lookups are cached and paced at lookupRate per second.
func NewDiscord(session *discordgo.Session, cfg model.ConfigProvider, lookupRate float64) *Discord {
	return &Discord{
		session: session,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(lookupRate), 1),
		members: expirable.NewLRU[string, memberEntry](memberCacheSize, nil, memberCacheTTL),
		now:     time.Now,
	}
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// ResolveMember looks the user up in the guild. It returns nil, nil when the user is not a member.
func (d *Discord) ResolveMember(ctx context.Context, guildID, userID string) (*model.Member, error) {
	key := memberKey(guildID, userID)
	if e, ok := d.members.Get(key); ok {
		return e.member, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	m, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			d.members.Add(key, memberEntry{})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}

	member := &model.Member{UserID: userID, Roles: append([]string(nil), m.Roles...)}
	d.members.Add(key, memberEntry{member: member})
	return member, nil
}

// SendPrivateNotice sends content to the user's direct messages.
func (d *Discord) SendPrivateNotice(ctx context.Context, userID, content string) error {
	channel, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to open private channel: %w", err)
	}
	if _, err := d.session.ChannelMessageSend(channel.ID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send private message: %w", err)
	}
	return nil
}

// ApplySanction puts the sanction into effect. Warnings and message deletions need nothing.
func (d *Discord) ApplySanction(ctx context.Context, guildID, userID string, t model.InfractionType, reason string) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)}
	defer d.members.Remove(memberKey(guildID, userID))

	switch t {
	case model.Ban, model.TemporaryBan:
		return d.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
	case model.Kick:
		return d.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
	case model.Mute, model.TemporaryMute:
		roleID := d.cfg.Guild(guildID).MuteRoleID
		if roleID == "" {
			return fmt.Errorf("no mute role configured for guild %s", guildID)
		}
		return d.session.GuildMemberRoleAdd(guildID, userID, roleID, opts...)
	case model.Gag:
		until := d.now().Add(d.cfg.Guild(guildID).GagDuration)
		return d.session.GuildMemberTimeout(guildID, userID, &until, opts...)
	case model.Warning, model.MessageDeletion:
		return nil
	}
	return fmt.Errorf("cannot apply %s", t)
}

// RevokeSanction lifts a ban or any kind of mute. Lifting something that is already gone succeeds.
func (d *Discord) RevokeSanction(ctx context.Context, guildID, userID string, t model.InfractionType, reason string) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)}
	defer d.members.Remove(memberKey(guildID, userID))

	switch {
	case t.IsBan():
		if err := d.session.GuildBanDelete(guildID, userID, opts...); err != nil && !isNotFound(err) {
			return err
		}
		return nil
	case t.IsMute():
		// The record does not say how the user was silenced, so lift both.
		if roleID := d.cfg.Guild(guildID).MuteRoleID; roleID != "" {
			if err := d.session.GuildMemberRoleRemove(guildID, userID, roleID, opts...); err != nil && !isNotFound(err) {
				return err
			}
		}
		if err := d.session.GuildMemberTimeout(guildID, userID, nil, opts...); err != nil && !isNotFound(err) {
			return err
		}
		return nil
	}
	return fmt.Errorf("cannot revoke %s", t)
}

// IsBanned asks Discord whether the user is banned from the guild.
func (d *Discord) IsBanned(ctx context.Context, guildID, userID string) (bool, error) {
	_, err := d.session.GuildBan(guildID, userID, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	log.Printf("[Platform] Failed to check ban of user %s in guild %s: %v", userID, guildID, err)
	return false, err
}
