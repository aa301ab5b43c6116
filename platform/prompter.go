package platform

import (
	"context"
	"discord-moderation/cooldown"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	confirmPrefix = "dup_confirm:"
	cancelPrefix  = "dup_cancel:"
)

// Prompter asks moderators to confirm a duplicate action through a direct message with
// two buttons. Register HandleInteraction as a discordgo handler to receive the answers.
type Prompter struct {
	session *discordgo.Session
	seq     atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan bool
}

var _ cooldown.Prompter = (*Prompter)(nil)

func NewPrompter(session *discordgo.Session) *Prompter {
	return &Prompter{session: session, pending: make(map[string]chan bool)}
}

// Prompt DMs the moderator and returns a channel receiving their answer. The prompt is
// forgotten once ctx ends.
func (p *Prompter) Prompt(ctx context.Context, req cooldown.ConfirmationRequest) (<-chan bool, error) {
	token, ch := p.register(req)

	channel, err := p.session.UserChannelCreate(req.ModeratorID, discordgo.WithContext(ctx))
	if err != nil {
		p.forget(token)
		return nil, fmt.Errorf("failed to open private channel: %w", err)
	}
	_, err = p.session.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Content:    confirmationText(req),
		Components: confirmationButtons(token),
	}, discordgo.WithContext(ctx))
	if err != nil {
		p.forget(token)
		return nil, fmt.Errorf("failed to send confirmation prompt: %w", err)
	}

	log.Printf("[Platform] Asked %s to confirm action on %s, last infraction %s ago",
		req.ModeratorID, req.Conflicting.Infraction.UserID, promptAge(req, time.Now()))
	go func() {
		<-ctx.Done()
		p.forget(token)
	}()
	return ch, nil
}

func (p *Prompter) register(req cooldown.ConfirmationRequest) (string, chan bool) {
	token := fmt.Sprintf("%s-%s-%d", req.GuildID, req.Conflicting.Infraction.UserID, p.seq.Add(1))
	ch := make(chan bool, 1)
	p.mu.Lock()
	p.pending[token] = ch
	p.mu.Unlock()
	return token, ch
}

func (p *Prompter) forget(token string) {
	p.mu.Lock()
	delete(p.pending, token)
	p.mu.Unlock()
}

// resolve delivers the answer carried by customID. It reports whether a pending prompt matched.
func (p *Prompter) resolve(customID string) (bool, bool) {
	var token string
	var answer bool
	switch {
	case strings.HasPrefix(customID, confirmPrefix):
		token, answer = strings.TrimPrefix(customID, confirmPrefix), true
	case strings.HasPrefix(customID, cancelPrefix):
		token = strings.TrimPrefix(customID, cancelPrefix)
	default:
		return false, false
	}

	p.mu.Lock()
	ch, ok := p.pending[token]
	delete(p.pending, token)
	p.mu.Unlock()
	if !ok {
		return answer, false
	}
	ch <- answer
	return answer, true
}

// HandleInteraction answers button presses on confirmation prompts.
func (p *Prompter) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	customID := i.MessageComponentData().CustomID
	if !strings.HasPrefix(customID, confirmPrefix) && !strings.HasPrefix(customID, cancelPrefix) {
		return
	}

	answer, matched := p.resolve(customID)
	content := "This confirmation has expired."
	switch {
	case matched && answer:
		content = "Confirmed, the action will proceed."
	case matched:
		content = "Cancelled."
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		log.Printf("[Platform] Failed to acknowledge confirmation %s: %v", customID, err)
	}
}

func confirmationText(req cooldown.ConfirmationRequest) string {
	inf := req.Conflicting.Infraction
	var b strings.Builder
	fmt.Fprintf(&b, "<@%s> already received a %s from <@%s> <t:%d:R>", inf.UserID, inf.Type, inf.IssuerID, req.Conflicting.RecordedAt.Unix())
	if inf.Reason != "" {
		fmt.Fprintf(&b, " (%s)", inf.Reason)
	}
	b.WriteString(".\nDo you still want to proceed?")
	return b.String()
}

func confirmationButtons(token string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Proceed", Style: discordgo.DangerButton, CustomID: confirmPrefix + token},
				discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: cancelPrefix + token},
			},
		},
	}
}

// promptAge is how long ago the conflicting infraction was recorded, for logs.
func promptAge(req cooldown.ConfirmationRequest, now time.Time) time.Duration {
	return now.Sub(req.Conflicting.RecordedAt).Round(time.Second)
}
