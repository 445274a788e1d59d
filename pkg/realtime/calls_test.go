package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutRecorder struct {
	mu       sync.Mutex
	sessions []CallSession
}

func (r *timeoutRecorder) record(s CallSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *timeoutRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func TestCalls_Initiate_Then_Accept(t *testing.T) {
	req := require.New(t)
	calls := NewCalls(time.Minute, nil)
	defer calls.Stop()

	s, err := calls.Initiate("alice", "bob", "video", time.Now())
	req.NoError(err)
	req.Equal(CallRinging, s.State)
	req.NotEmpty(s.ID)

	// Only the callee may answer.
	_, err = calls.Accept("alice", "bob")
	req.ErrorIs(err, ErrCallStateConflict)

	s, err = calls.Accept("bob", "alice")
	req.NoError(err)
	req.Equal(CallAccepted, s.State)

	// A second accept is a conflict, and the session is left accepted.
	_, err = calls.Accept("bob", "alice")
	req.ErrorIs(err, ErrCallStateConflict)
	live, ok := calls.Lookup("bob", "alice")
	req.True(ok)
	req.Equal(CallAccepted, live.State)
}

func TestCalls_One_Session_Per_Pair(t *testing.T) {
	req := require.New(t)
	calls := NewCalls(time.Minute, nil)
	defer calls.Stop()

	_, err := calls.Initiate("alice", "bob", "audio", time.Now())
	req.NoError(err)

	_, err = calls.Initiate("alice", "bob", "audio", time.Now())
	req.ErrorIs(err, ErrCallAlreadyInProgress)

	// Same unordered pair, other direction.
	_, err = calls.Initiate("bob", "alice", "video", time.Now())
	req.ErrorIs(err, ErrCallAlreadyInProgress)

	// A different pair is unaffected.
	_, err = calls.Initiate("alice", "carol", "audio", time.Now())
	req.NoError(err)
	req.Equal(2, calls.Len())
}

func TestCalls_Reject_Closes_Session(t *testing.T) {
	req := require.New(t)
	calls := NewCalls(time.Minute, nil)
	defer calls.Stop()

	_, err := calls.Initiate("alice", "bob", "video", time.Now())
	req.NoError(err)

	s, err := calls.Reject("bob", "alice")
	req.NoError(err)
	req.Equal(CallRejected, s.State)

	_, err = calls.Accept("bob", "alice")
	req.ErrorIs(err, ErrCallStateConflict)
	_, ok := calls.Lookup("alice", "bob")
	req.False(ok)

	// The pair may call again afterwards.
	_, err = calls.Initiate("alice", "bob", "video", time.Now())
	req.NoError(err)
}

func TestCalls_Ringing_Timeout(t *testing.T) {
	req := require.New(t)
	rec := &timeoutRecorder{}
	calls := NewCalls(30*time.Millisecond, rec.record)
	defer calls.Stop()

	_, err := calls.Initiate("alice", "bob", "video", time.Now())
	req.NoError(err)

	req.Eventually(func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	req.Equal(CallTimedOut, rec.sessions[0].State)
	req.Equal("alice", rec.sessions[0].CallerID)

	_, err = calls.Accept("bob", "alice")
	req.ErrorIs(err, ErrCallStateConflict)
	req.Equal(0, calls.Len())
}

func TestCalls_Accept_Cancels_Timer(t *testing.T) {
	req := require.New(t)
	rec := &timeoutRecorder{}
	calls := NewCalls(30*time.Millisecond, rec.record)
	defer calls.Stop()

	_, err := calls.Initiate("alice", "bob", "audio", time.Now())
	req.NoError(err)
	_, err = calls.Accept("bob", "alice")
	req.NoError(err)

	time.Sleep(90 * time.Millisecond)
	req.Equal(0, rec.count())
	s, ok := calls.Lookup("alice", "bob")
	req.True(ok)
	req.Equal(CallAccepted, s.State)
}

func TestCalls_Stale_Timer_Is_Noop(t *testing.T) {
	req := require.New(t)
	rec := &timeoutRecorder{}
	calls := NewCalls(time.Minute, rec.record)
	defer calls.Stop()

	_, err := calls.Initiate("alice", "bob", "audio", time.Now())
	req.NoError(err)
	stale := calls.active["alice:bob"]

	_, err = calls.End("alice", "bob")
	req.NoError(err)
	_, err = calls.Initiate("alice", "bob", "audio", time.Now())
	req.NoError(err)

	// The first attempt's timer fires late: the new session must survive.
	calls.expire("alice:bob", stale)
	req.Equal(0, rec.count())
	s, ok := calls.Lookup("alice", "bob")
	req.True(ok)
	req.Equal(CallRinging, s.State)
}

func TestCalls_End(t *testing.T) {
	req := require.New(t)
	calls := NewCalls(time.Minute, nil)
	defer calls.Stop()

	_, err := calls.End("alice", "bob")
	req.ErrorIs(err, ErrCallStateConflict)

	// Caller cancels before answer.
	_, err = calls.Initiate("alice", "bob", "audio", time.Now())
	req.NoError(err)
	s, err := calls.End("alice", "bob")
	req.NoError(err)
	req.Equal(CallEnded, s.State)

	// Either party hangs up an accepted call.
	_, err = calls.Initiate("alice", "bob", "audio", time.Now())
	req.NoError(err)
	_, err = calls.Accept("bob", "alice")
	req.NoError(err)
	req.NoError(calls.CanRelay("alice", "bob"))
	s, err = calls.End("bob", "alice")
	req.NoError(err)
	req.Equal(CallEnded, s.State)
	req.ErrorIs(calls.CanRelay("alice", "bob"), ErrCallStateConflict)
}

func TestCalls_Drop_User(t *testing.T) {
	req := require.New(t)
	calls := NewCalls(time.Minute, nil)
	defer calls.Stop()

	_, err := calls.Initiate("alice", "bob", "audio", time.Now())
	req.NoError(err)
	_, err = calls.Initiate("carol", "alice", "video", time.Now())
	req.NoError(err)
	_, err = calls.Accept("alice", "carol")
	req.NoError(err)
	_, err = calls.Initiate("dave", "erin", "video", time.Now())
	req.NoError(err)

	dropped := calls.Drop("alice")
	req.Len(dropped, 2)

	states := map[string]CallState{}
	for _, s := range dropped {
		states[s.Counterpart("alice")] = s.State
	}
	req.Equal(CallFailed, states["bob"])
	req.Equal(CallEnded, states["carol"])
	req.Equal(1, calls.Len())
}
