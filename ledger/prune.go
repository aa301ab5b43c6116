package ledger

import (
	"context"
	"discord-moderation/model"
	"discord-moderation/utils/database/infractions"
	"fmt"
	"log"
)

// PruneStaleInfractions removes the infractions of every subject that can no longer be
// resolved in its guild. It walks all guilds held in memory and reports progress as the
// number of subjects checked out of the total. Each guild is deleted in one transaction;
// a cancelled prune leaves the guild it was working on untouched.
func (l *Ledger) PruneStaleInfractions(ctx context.Context, resolver model.MemberResolver, progress func(done, total int)) (int, error) {
	type subject struct{ guildID, userID string }

	// Snapshot the subjects first so lookups run without holding the lock.
	var subjects []subject
	l.mu.RLock()
	for guildID, records := range l.cache {
		seen := make(map[string]bool)
		for _, rec := range records {
			if !seen[rec.UserID] {
				seen[rec.UserID] = true
				subjects = append(subjects, subject{guildID, rec.UserID})
			}
		}
	}
	l.mu.RUnlock()

	stale := make(map[string]map[string]bool) // guild ID -> user IDs
	for i, s := range subjects {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("prune cancelled after %d of %d subjects: %w", i, len(subjects), err)
		}
		member, err := resolver.ResolveMember(ctx, s.guildID, s.userID)
		if err != nil {
			// An unknown lookup failure is not proof the member is gone.
			log.Printf("[Ledger] Could not resolve user %s in guild %s during prune: %v", s.userID, s.guildID, err)
		} else if member == nil {
			if stale[s.guildID] == nil {
				stale[s.guildID] = make(map[string]bool)
			}
			stale[s.guildID][s.userID] = true
		}
		if progress != nil {
			progress(i+1, len(subjects))
		}
	}

	removed := 0
	for guildID, users := range stale {
		n, err := l.removeSubjects(guildID, users)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	if removed > 0 {
		log.Printf("[Ledger] Pruned %d infractions of departed users", removed)
	}
	return removed, nil
}

func (l *Ledger) removeSubjects(guildID string, users map[string]bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []int64
	kept := make([]model.Infraction, 0, len(l.cache[guildID]))
	for _, rec := range l.cache[guildID] {
		if users[rec.UserID] {
			ids = append(ids, rec.ID)
		} else {
			kept = append(kept, rec)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := infractions.DeleteInfractionsByIDs(l.db, ids); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return 0, err
	}
	l.cache[guildID] = kept
	infractionsPruned.Add(float64(len(ids)))
	return len(ids), nil
}
