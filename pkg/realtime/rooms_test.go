package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRooms_Channel_Names(t *testing.T) {
	req := require.New(t)

	req.Equal("user:alice", PersonalChannel("alice"))
	req.Equal("conversation:alice:bob", ConversationChannel("bob", "alice"))
	req.Equal(ConversationChannel("alice", "bob"), ConversationChannel("bob", "alice"))
}

func TestRooms_Join_Conversation_Leaves_Previous(t *testing.T) {
	req := require.New(t)
	r := NewRooms()
	c := testConn("alice")

	r.Join(c, PersonalChannel("alice"))
	req.Equal("", r.Join(c, ConversationChannel("alice", "bob")))
	left := r.Join(c, ConversationChannel("alice", "carol"))

	req.Equal(ConversationChannel("alice", "bob"), left)
	req.ElementsMatch([]string{PersonalChannel("alice"), ConversationChannel("alice", "carol")}, r.ChannelsOf(c))
	req.Empty(r.MembersOf(ConversationChannel("alice", "bob")))
	req.True(r.HasUser(ConversationChannel("alice", "carol"), "alice"))
	req.False(r.HasUser(ConversationChannel("alice", "carol"), "carol"))
}

func TestRooms_Rejoining_Same_Conversation(t *testing.T) {
	req := require.New(t)
	r := NewRooms()
	c := testConn("alice")

	r.Join(c, ConversationChannel("alice", "bob"))
	req.Equal("", r.Join(c, ConversationChannel("alice", "bob")))
	req.Len(r.MembersOf(ConversationChannel("alice", "bob")), 1)
}

func TestRooms_LeaveAll(t *testing.T) {
	req := require.New(t)
	r := NewRooms()
	alice, bob := testConn("alice"), testConn("bob")

	r.Join(alice, PersonalChannel("alice"))
	r.Join(alice, ConversationChannel("alice", "bob"))
	r.Join(bob, ConversationChannel("alice", "bob"))

	r.LeaveAll(alice)

	req.Empty(r.ChannelsOf(alice))
	req.Empty(r.MembersOf(PersonalChannel("alice")))
	members := r.MembersOf(ConversationChannel("alice", "bob"))
	req.Len(members, 1)
	req.Equal(bob, members[0])
}
