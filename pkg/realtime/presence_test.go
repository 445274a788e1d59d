package realtime

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/stretchr/testify/require"
)

func testConn(userID string) *Conn {
	return newConn(model.Identity{UserID: userID, Role: "student"}, 16)
}

func TestPresence_Register_First_And_Second_Connection(t *testing.T) {
	req := require.New(t)
	p := NewPresence()
	tab1, tab2 := testConn("alice"), testConn("alice")

	firsts := 0
	req.True(p.Register(tab1, func() { firsts++ }))
	req.False(p.Register(tab2, func() { firsts++ }))
	req.Equal(1, firsts)

	req.True(p.IsOnline("alice"))
	req.Len(p.Connections("alice"), 2)
	req.ElementsMatch([]string{"alice"}, p.ListOnline())
}

func TestPresence_Second_Tab_Closing_Keeps_User_Online(t *testing.T) {
	req := require.New(t)
	p := NewPresence()
	tab1, tab2 := testConn("alice"), testConn("alice")
	p.Register(tab1, nil)
	p.Register(tab2, nil)

	lasts := 0
	req.True(p.Unregister(tab1, func() { lasts++ }))
	req.Equal(0, lasts)
	req.True(p.IsOnline("alice"))

	req.True(p.Unregister(tab2, func() { lasts++ }))
	req.Equal(1, lasts)
	req.False(p.IsOnline("alice"))
	req.Empty(p.ListOnline())
}

func TestPresence_Unregister_Unknown_Connection(t *testing.T) {
	req := require.New(t)
	p := NewPresence()
	registered, stranger := testConn("alice"), testConn("alice")
	p.Register(registered, nil)

	called := false
	req.False(p.Unregister(stranger, func() { called = true }))
	req.False(called)
	req.True(p.IsOnline("alice"))

	// A second unregister of the same connection is a no-op too.
	req.True(p.Unregister(registered, nil))
	req.False(p.Unregister(registered, func() { called = true }))
	req.False(called)
}

// Online must equal "at least one live connection" whatever the interleaving.
func TestPresence_Invariant_Under_Concurrent_Churn(t *testing.T) {
	req := require.New(t)
	p := NewPresence()

	const users = 20
	const connsPerUser = 8

	type slot struct {
		conn *Conn
		keep bool
	}
	slots := make([]slot, 0, users*connsPerUser)
	for u := 0; u < users; u++ {
		for i := 0; i < connsPerUser; i++ {
			slots = append(slots, slot{
				conn: testConn(fmt.Sprintf("user-%d", u)),
				keep: rand.Intn(3) == 0,
			})
		}
	}

	var wg sync.WaitGroup
	for _, s := range slots {
		wg.Add(1)
		go func(s slot) {
			defer wg.Done()
			p.Register(s.conn, nil)
			if !s.keep {
				// Abrupt disconnect, possibly reported twice by the transport.
				p.Unregister(s.conn, nil)
				p.Unregister(s.conn, nil)
			}
		}(s)
	}
	wg.Wait()

	expected := make(map[string]int)
	for _, s := range slots {
		if s.keep {
			expected[s.conn.Identity.UserID]++
		}
	}
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		req.Equal(expected[userID] > 0, p.IsOnline(userID), userID)
		req.Len(p.Connections(userID), expected[userID], userID)
	}
	req.Len(p.ListOnline(), len(expected))
	req.Equal(len(expected), p.Count())
}

func TestPresence_Transitions_Are_Serialized_Per_User(t *testing.T) {
	req := require.New(t)
	p := NewPresence()

	var mu sync.Mutex
	var events []string
	record := func(ev string) func() {
		return func() {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := testConn("bob")
			p.Register(c, record("online"))
			p.Unregister(c, record("offline"))
		}()
	}
	wg.Wait()

	req.False(p.IsOnline("bob"))
	req.NotEmpty(events)
	// Events must alternate, starting online and ending offline.
	for i, ev := range events {
		if i%2 == 0 {
			req.Equal("online", ev, i)
		} else {
			req.Equal("offline", ev, i)
		}
	}
	req.Equal("offline", events[len(events)-1])
}
