package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTypingTTL is how long a typing indicator lives without a refresh.
const DefaultTypingTTL = 5 * time.Second

// Typist is one user currently typing at a location.
type Typist struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Location  string `json:"location"`
	Timestamp int64  `json:"timestamp"`

	seen time.Time
	conn ConnectionID
}

// LockRelease describes a document lock dropped because its holder left.
type LockRelease struct {
	ProjectID  string
	DocumentID string
	UserID     string
}

// TypingChange is the set of users still typing at a location after some
// indicators there were dropped without the user saying so.
type TypingChange struct {
	ProjectID   string
	Location    string
	TypingUsers []Typist
}

type docLock struct {
	userID string
	conn   ConnectionID
}

type projectState struct {
	typing map[string]Typist  // userID -> indicator
	locks  map[string]docLock // documentID -> holder
}

// Collaboration holds per-project editing state: who is typing where, and
// who holds the edit lock on which document.
type Collaboration struct {
	mu       sync.Mutex
	projects map[string]*projectState
	ttl      time.Duration
	now      Clock
	logger   zerolog.Logger
}

// NewCollaboration creates empty collaboration state.
func NewCollaboration(ttl time.Duration, clock Clock, logger zerolog.Logger) *Collaboration {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Collaboration{
		projects: make(map[string]*projectState),
		ttl:      ttl,
		now:      clock,
		logger:   logger,
	}
}

func (c *Collaboration) project(id string) *projectState {
	p, ok := c.projects[id]
	if !ok {
		p = &projectState{
			typing: make(map[string]Typist),
			locks:  make(map[string]docLock),
		}
		c.projects[id] = p
	}
	return p
}

// SetTyping records or clears a user's typing state and returns everyone
// currently typing at the same location, ordered by user id.
func (c *Collaboration) SetTyping(projectID string, conn ConnectionID, userID, userName, location string, typing bool) []Typist {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.project(projectID)
	if typing {
		now := c.now()
		p.typing[userID] = Typist{
			UserID:    userID,
			UserName:  userName,
			Location:  location,
			Timestamp: now.UnixMilli(),
			seen:      now,
			conn:      conn,
		}
	} else {
		delete(p.typing, userID)
	}

	out := typingAt(p, location)
	c.pruneLocked(projectID, p)
	return out
}

// Lock tries to give userID the edit lock on documentID. It returns the
// current holder when the lock belongs to someone else.
func (c *Collaboration) Lock(projectID, documentID, userID string, conn ConnectionID) (holder string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.project(projectID)
	if existing, held := p.locks[documentID]; held && existing.userID != userID {
		return existing.userID, false
	}
	p.locks[documentID] = docLock{userID: userID, conn: conn}
	return userID, true
}

// Unlock drops the lock on documentID.
func (c *Collaboration) Unlock(projectID, documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.projects[projectID]
	if !ok {
		return
	}
	delete(p.locks, documentID)
	c.pruneLocked(projectID, p)
}

// LockHolder returns the user holding documentID's lock, if any.
func (c *Collaboration) LockHolder(projectID, documentID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.projects[projectID]
	if !ok {
		return "", false
	}
	l, ok := p.locks[documentID]
	return l.userID, ok
}

// ReleaseConnection drops every lock and typing indicator created through
// conn. It returns the released locks ordered by project then document, and
// the typing state of every location that lost an indicator.
func (c *Collaboration) ReleaseConnection(conn ConnectionID) ([]LockRelease, []TypingChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		released []LockRelease
		changed  []TypingChange
	)
	for projectID, p := range c.projects {
		for docID, l := range p.locks {
			if l.conn == conn {
				delete(p.locks, docID)
				released = append(released, LockRelease{ProjectID: projectID, DocumentID: docID, UserID: l.userID})
			}
		}
		locations := make(map[string]struct{})
		for userID, t := range p.typing {
			if t.conn == conn {
				delete(p.typing, userID)
				locations[t.Location] = struct{}{}
			}
		}
		changed = append(changed, typingChanges(projectID, p, locations)...)
		c.pruneLocked(projectID, p)
	}

	sort.Slice(released, func(i, j int) bool {
		if released[i].ProjectID != released[j].ProjectID {
			return released[i].ProjectID < released[j].ProjectID
		}
		return released[i].DocumentID < released[j].DocumentID
	})
	sortChanges(changed)
	return released, changed
}

// Sweep removes typing indicators older than the TTL and returns the typing
// state of every location that lost one.
func (c *Collaboration) Sweep() []TypingChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var changed []TypingChange
	for projectID, p := range c.projects {
		locations := make(map[string]struct{})
		for userID, t := range p.typing {
			if now.Sub(t.seen) > c.ttl {
				delete(p.typing, userID)
				locations[t.Location] = struct{}{}
			}
		}
		changed = append(changed, typingChanges(projectID, p, locations)...)
		c.pruneLocked(projectID, p)
	}
	sortChanges(changed)
	if len(changed) > 0 {
		c.logger.Debug().Int("locations", len(changed)).Msg("typing indicators expired")
	}
	return changed
}

func (c *Collaboration) pruneLocked(projectID string, p *projectState) {
	if len(p.typing) == 0 && len(p.locks) == 0 {
		delete(c.projects, projectID)
	}
}

// typingAt returns the users typing at location, ordered by user id. The
// result is never nil so it marshals as an empty list.
func typingAt(p *projectState, location string) []Typist {
	out := make([]Typist, 0, len(p.typing))
	for _, t := range p.typing {
		if t.Location == location {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func typingChanges(projectID string, p *projectState, locations map[string]struct{}) []TypingChange {
	out := make([]TypingChange, 0, len(locations))
	for loc := range locations {
		out = append(out, TypingChange{ProjectID: projectID, Location: loc, TypingUsers: typingAt(p, loc)})
	}
	return out
}

func sortChanges(changes []TypingChange) {
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].ProjectID != changes[j].ProjectID {
			return changes[i].ProjectID < changes[j].ProjectID
		}
		return changes[i].Location < changes[j].Location
	})
}
