package gateway

import (
	"sort"
	"sync"
	"time"
)

// idleAfter marks a client idle in ClientInfo once it has been quiet this long
const idleAfter = 5 * time.Minute

// ClientRegistry indexes connected websocket clients by ID
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	now     func() time.Time
}

// NewClientRegistry creates an empty registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		now:     time.Now,
	}
}

// Add indexes client, replacing any client with the same ID
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()
}

// Remove drops a client; unknown IDs are ignored
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// Get looks a client up by ID
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	return client, ok
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// All returns every client
func (r *ClientRegistry) All() []*Client {
	return r.selectClients(func(*Client, time.Time) bool { return true })
}

// Authenticated returns the clients allowed to receive events
func (r *ClientRegistry) Authenticated() []*Client {
	return r.selectClients(func(c *Client, _ time.Time) bool { return c.Authenticated })
}

// Unauthenticated returns clients that never answered their challenge and
// whose challenge has expired
func (r *ClientRegistry) Unauthenticated() []*Client {
	return r.selectClients(func(c *Client, now time.Time) bool {
		if c.Authenticated || c.ChallengeExpiresAt.IsZero() {
			return false
		}
		return now.After(c.ChallengeExpiresAt)
	})
}

func (r *ClientRegistry) selectClients(keep func(*Client, time.Time) bool) []*Client {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if keep(c, now) {
			out = append(out, c)
		}
	}
	return out
}

// Infos describes every connected client, oldest connection first
func (r *ClientRegistry) Infos() []ClientInfo {
	now := r.now()

	r.mu.RLock()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, ClientInfo{
			ID:            c.ID,
			Authenticated: c.Authenticated,
			ConnectedAt:   c.ConnectedAt,
			LastActivity:  c.LastActivity,
			IPAddress:     c.IPAddress,
			Idle:          now.Sub(c.LastActivity) > idleAfter,
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Touch records activity for a client
func (r *ClientRegistry) Touch(clientID string) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[clientID]; ok {
		c.LastActivity = now
	}
}
