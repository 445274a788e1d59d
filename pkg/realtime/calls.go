package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/tutor-realtime/pkg/model"
)

type CallState string

const (
	CallIdle     CallState = "idle"
	CallRinging  CallState = "ringing"
	CallAccepted CallState = "accepted"
	CallRejected CallState = "rejected"
	CallTimedOut CallState = "timed_out"
	CallFailed   CallState = "failed"
	CallEnded    CallState = "ended"
)

// CallSession is the signaling-only record of one call attempt.
type CallSession struct {
	ID        string
	CallerID  string
	CalleeID  string
	CallType  string
	State     CallState
	StartedAt time.Time
}

// Counterpart returns the other party of the call.
func (s CallSession) Counterpart(userID string) string {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

type callEntry struct {
	session CallSession
	timer   *time.Timer
}

// Calls owns every active call session, keyed by the unordered pair of
// participants. Only RINGING and ACCEPTED sessions are kept; a terminal
// transition removes the entry.
type Calls struct {
	mu          sync.Mutex
	active      map[string]*callEntry
	ringTimeout time.Duration
	onTimeout   func(CallSession)
}

func NewCalls(ringTimeout time.Duration, onTimeout func(CallSession)) *Calls {
	return &Calls{
		active:      make(map[string]*callEntry),
		ringTimeout: ringTimeout,
		onTimeout:   onTimeout,
	}
}

// Initiate opens a RINGING session and arms the ringing timer.
func (c *Calls) Initiate(callerID, calleeID, callType string, now time.Time) (CallSession, error) {
	key := model.ConversationID(callerID, calleeID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.active[key]; ok {
		return e.session, ErrCallAlreadyInProgress
	}

	e := &callEntry{session: CallSession{
		ID:        uuid.NewString(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		CallType:  callType,
		State:     CallRinging,
		StartedAt: now,
	}}
	e.timer = time.AfterFunc(c.ringTimeout, func() { c.expire(key, e) })
	c.active[key] = e
	return e.session, nil
}

// expire fires from the ringing timer. It only acts if e is still the live
// session for key and still ringing; a timer that lost the race is a no-op.
func (c *Calls) expire(key string, e *callEntry) {
	c.mu.Lock()
	if c.active[key] != e || e.session.State != CallRinging {
		c.mu.Unlock()
		return
	}
	e.session.State = CallTimedOut
	delete(c.active, key)
	session := e.session
	c.mu.Unlock()

	if c.onTimeout != nil {
		c.onTimeout(session)
	}
}

// Accept moves a ringing session to ACCEPTED. Only the callee may accept.
func (c *Calls) Accept(calleeID, callerID string) (CallSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.ringingFor(calleeID, callerID)
	if err != nil {
		return CallSession{}, err
	}
	e.timer.Stop()
	e.session.State = CallAccepted
	return e.session, nil
}

// Reject moves a ringing session to REJECTED and forgets it.
func (c *Calls) Reject(calleeID, callerID string) (CallSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.ringingFor(calleeID, callerID)
	if err != nil {
		return CallSession{}, err
	}
	e.timer.Stop()
	e.session.State = CallRejected
	delete(c.active, model.ConversationID(calleeID, callerID))
	return e.session, nil
}

func (c *Calls) ringingFor(calleeID, callerID string) (*callEntry, error) {
	e, ok := c.active[model.ConversationID(calleeID, callerID)]
	if !ok {
		return nil, fmt.Errorf("%w: no call from %s", ErrCallStateConflict, callerID)
	}
	if e.session.State != CallRinging || e.session.CalleeID != calleeID {
		return nil, fmt.Errorf("%w: call is %s", ErrCallStateConflict, e.session.State)
	}
	return e, nil
}

// End closes the session between fromID and toID from RINGING or ACCEPTED.
func (c *Calls) End(fromID, toID string) (CallSession, error) {
	key := model.ConversationID(fromID, toID)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.active[key]
	if !ok {
		return CallSession{}, fmt.Errorf("%w: no active call with %s", ErrCallStateConflict, toID)
	}
	e.timer.Stop()
	e.session.State = CallEnded
	delete(c.active, key)
	return e.session, nil
}

// CanRelay reports whether signaling may flow between the pair.
func (c *Calls) CanRelay(fromID, toID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[model.ConversationID(fromID, toID)]; !ok {
		return fmt.Errorf("%w: no active call with %s", ErrCallStateConflict, toID)
	}
	return nil
}

// Drop terminates every session involving userID: ringing ones fail,
// accepted ones end.
func (c *Calls) Drop(userID string) []CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dropped []CallSession
	for key, e := range c.active {
		if e.session.CallerID != userID && e.session.CalleeID != userID {
			continue
		}
		e.timer.Stop()
		if e.session.State == CallRinging {
			e.session.State = CallFailed
		} else {
			e.session.State = CallEnded
		}
		delete(c.active, key)
		dropped = append(dropped, e.session)
	}
	return dropped
}

// Lookup returns the active session between a and b.
func (c *Calls) Lookup(a, b string) (CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.active[model.ConversationID(a, b)]
	if !ok {
		return CallSession{}, false
	}
	return e.session, true
}

func (c *Calls) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Stop disarms every timer and forgets all sessions.
func (c *Calls) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.active {
		e.timer.Stop()
		delete(c.active, key)
	}
}
