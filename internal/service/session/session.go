package session

import (
	"sync"
	"time"

	"github.com/officeai/privacy-gateway/internal/model/chat"
)

// Turn is one masked (role, text) entry in a session's log.
type Turn struct {
	Role    string
	Content string
}

// Usage holds a session's running token and cost totals. Cost is
// accumulated unrounded; rounding happens at the reporting boundary.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Session is the process-local state for one conversation: the masked turn
// log fed back to the model as history and the usage accumulator. The
// embedded mutex serializes whole turns on the same conversation; callers
// hold it from model invocation through accounting.
type Session struct {
	ConversationID string
	CreatedAt      time.Time

	mu    sync.Mutex
	state sync.Mutex
	turns []Turn
	usage Usage
	last  time.Time
}

func newSession(conversationID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ConversationID: conversationID,
		CreatedAt:      now,
		turns:          make([]Turn, 0, 16),
		last:           now,
	}
}

// Lock acquires the per-conversation turn lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-conversation turn lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Append adds a masked turn to the session log.
func (s *Session) Append(role, content string) {
	s.state.Lock()
	defer s.state.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Content: content})
	s.last = time.Now().UTC()
}

// AppendUser records the masked inbound message.
func (s *Session) AppendUser(content string) { s.Append(chat.RoleUser, content) }

// AppendAssistant records the masked model reply.
func (s *Session) AppendAssistant(content string) { s.Append(chat.RoleAssistant, content) }

// History returns a copy of the turn log.
func (s *Session) History() []Turn {
	s.state.Lock()
	defer s.state.Unlock()
	copied := make([]Turn, len(s.turns))
	copy(copied, s.turns)
	return copied
}

// AddUsage folds one turn's token counts and cost into the accumulator.
// Totals only ever grow; they reset with session destruction.
func (s *Session) AddUsage(inputTokens, outputTokens int64, costUSD float64) Usage {
	s.state.Lock()
	defer s.state.Unlock()
	s.usage.InputTokens += inputTokens
	s.usage.OutputTokens += outputTokens
	s.usage.CostUSD += costUSD
	s.last = time.Now().UTC()
	return s.usage
}

// Usage returns the current cumulative totals.
func (s *Session) Usage() Usage {
	s.state.Lock()
	defer s.state.Unlock()
	return s.usage
}

// touch refreshes the activity timestamp, keeping the session out of the
// eviction window while a turn is being set up.
func (s *Session) touch() {
	s.state.Lock()
	s.last = time.Now().UTC()
	s.state.Unlock()
}

// LastActivity reports when the session was last touched.
func (s *Session) LastActivity() time.Time {
	s.state.Lock()
	defer s.state.Unlock()
	return s.last
}
