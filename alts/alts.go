// Package alts links alternate accounts to each other. Links are undirected; the database
// keeps each one as a mirrored pair of rows.
package alts

import (
	"context"
	"discord-moderation/model"
	"discord-moderation/utils/database/infractions"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Graph is the in-memory adjacency view of every alt link.
type Graph struct {
	db  *sqlx.DB
	now func() time.Time

	mu  sync.RWMutex
	adj map[string]map[string]bool
}

// New creates an empty graph writing through to db.
func New(db *sqlx.DB) *Graph {
	return &Graph{
		db:  db,
		now: time.Now,
		adj: make(map[string]map[string]bool),
	}
}

// Load builds the adjacency sets from every stored edge.
func (g *Graph) Load(ctx context.Context) error {
	edges, err := infractions.GetAllAltAccounts(g.db)
	if err != nil {
		return err
	}

	adj := make(map[string]map[string]bool)
	for _, e := range edges {
		link(adj, e.UserID, e.AltID)
	}

	g.mu.Lock()
	g.adj = adj
	g.mu.Unlock()
	log.Printf("[Alts] Loaded %d alt links", len(edges)/2)
	return nil
}

func link(adj map[string]map[string]bool, a, b string) {
	if adj[a] == nil {
		adj[a] = make(map[string]bool)
	}
	if adj[b] == nil {
		adj[b] = make(map[string]bool)
	}
	adj[a][b] = true
	adj[b][a] = true
}

func unlink(adj map[string]map[string]bool, a, b string) {
	delete(adj[a], b)
	delete(adj[b], a)
	if len(adj[a]) == 0 {
		delete(adj, a)
	}
	if len(adj[b]) == 0 {
		delete(adj, b)
	}
}

// AddAlt links userID and altID on behalf of staffID.
func (g *Graph) AddAlt(ctx context.Context, userID, altID, staffID string) error {
	if userID == "" || altID == "" || staffID == "" {
		return model.Invalid("user, alt and staff member are required")
	}
	if userID == altID {
		return model.Invalid("an account cannot be its own alt")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := infractions.AddAltPair(g.db, userID, altID, staffID, g.now()); err != nil {
		return err
	}
	link(g.adj, userID, altID)
	log.Printf("[Alts] %s linked %s and %s", staffID, userID, altID)
	return nil
}

// RemoveAlt removes the direct link between userID and altID. Accounts that were only
// related through that link stop being related; every other link stays.
func (g *Graph) RemoveAlt(ctx context.Context, userID, altID, staffID string) error {
	if userID == "" || altID == "" {
		return model.Invalid("user and alt are required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.adj[userID][altID] {
		return nil
	}
	if err := infractions.DeleteAltPairs(g.db, [][2]string{{userID, altID}}); err != nil {
		return err
	}
	unlink(g.adj, userID, altID)
	log.Printf("[Alts] %s unlinked %s and %s", staffID, userID, altID)
	return nil
}

// RemoveAltCascade tears down every link among userID and the accounts returned by AltsFor(userID),
// and returns the number of links removed.
func (g *Graph) RemoveAltCascade(ctx context.Context, userID, staffID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	members := g.closureLocked(userID)
	members[userID] = true

	var pairs [][2]string
	for a := range members {
		for b := range g.adj[a] {
			if members[b] && a < b {
				pairs = append(pairs, [2]string{a, b})
			}
		}
	}
	if len(pairs) == 0 {
		return 0, nil
	}
	if err := infractions.DeleteAltPairs(g.db, pairs); err != nil {
		return 0, err
	}
	for _, p := range pairs {
		unlink(g.adj, p[0], p[1])
	}
	log.Printf("[Alts] %s removed %d links around %s", staffID, len(pairs), userID)
	return len(pairs), nil
}

// closureLocked returns the direct alts of userID and their direct alts, without userID.
func (g *Graph) closureLocked(userID string) map[string]bool {
	out := make(map[string]bool)
	for alt := range g.adj[userID] {
		out[alt] = true
		for altOfAlt := range g.adj[alt] {
			out[altOfAlt] = true
		}
	}
	delete(out, userID)
	return out
}

// AltsFor returns the direct alts of userID together with their own direct alts, sorted.
func (g *Graph) AltsFor(userID string) []string {
	g.mu.RLock()
	closure := g.closureLocked(userID)
	g.mu.RUnlock()

	out := make([]string, 0, len(closure))
	for id := range closure {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
