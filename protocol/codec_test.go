package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Decode_RoundTrip(t *testing.T) {
	messages := map[string]Message{
		"join":                    NewJoin("alice"),
		"chat":                    NewChat("alice", "hello there"),
		"chat with colons":        NewChat("alice", "note: this still works: really"),
		"chat with empty body":    NewChat("alice", ""),
		"whisper":                 NewWhisper("alice", "bob", "psst"),
		"whisper with colons":     NewWhisper("alice", "bob", "meet at 10:30"),
		"list request":            NewListRequest(),
		"list response":           NewListResponse([]string{"alice", "bob", "carol"}),
		"list response nil users": NewListResponse(nil),
		"quit":                    NewQuit("alice"),
		"error":                   NewError("user not found"),
		"error with colons":       NewError("bad frame: MSG"),
		"notice":                  NewNotice("alice joined"),
	}

	for name, msg := range messages {
		t.Run(name, func(t *testing.T) {
			line, err := Encode(msg)
			require.NoError(t, err)

			decoded, err := Decode(line)
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestEncode_WireFormat(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want string
	}{
		{"join", NewJoin("alice"), "JOIN:alice"},
		{"chat", NewChat("alice", "hi all"), "MSG:alice:hi all"},
		{"whisper", NewWhisper("alice", "bob", "hey"), "WHISPER:alice:bob:hey"},
		{"list request", NewListRequest(), "LIST"},
		{"list response", NewListResponse([]string{"alice", "bob"}), "LIST_USERS:alice,bob"},
		{"quit", NewQuit("alice"), "QUIT:alice"},
		{"error", NewError("not joined"), "ERROR:not joined"},
		{"notice", NewNotice("alice left"), "NOTICE:alice left"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line, err := Encode(tc.msg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, line)
		})
	}
}

func TestEncode_RejectsReservedCharacters(t *testing.T) {
	t.Run("separator in sender", func(t *testing.T) {
		_, err := Encode(NewChat("al:ice", "hi"))
		assert.ErrorIs(t, err, ErrReservedCharacter)
	})

	t.Run("separator in whisper recipient", func(t *testing.T) {
		_, err := Encode(NewWhisper("alice", "b:ob", "hi"))
		assert.ErrorIs(t, err, ErrReservedCharacter)
	})

	t.Run("delimiter in body", func(t *testing.T) {
		_, err := Encode(NewChat("alice", "line one\nline two"))
		assert.ErrorIs(t, err, ErrReservedCharacter)
	})

	t.Run("delimiter in notice", func(t *testing.T) {
		_, err := Encode(NewNotice("boom\n"))
		assert.ErrorIs(t, err, ErrReservedCharacter)
	})

	t.Run("comma in list response user", func(t *testing.T) {
		_, err := Encode(NewListResponse([]string{"a,b"}))
		assert.ErrorIs(t, err, ErrReservedCharacter)
	})

	t.Run("separator allowed in trailing body", func(t *testing.T) {
		_, err := Encode(NewChat("alice", "10:30"))
		assert.NoError(t, err)
	})
}

func TestEncode_RejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"join without username", NewJoin("")},
		{"chat without sender", NewChat("", "hi")},
		{"whisper without recipient", NewWhisper("alice", "", "hi")},
		{"quit without username", NewQuit("")},
		{"list response with empty user", NewListResponse([]string{"alice", ""})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.msg)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}
}

func TestEncode_UnknownKind(t *testing.T) {
	_, err := Encode(Message{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecode_MalformedFrames(t *testing.T) {
	cases := []struct {
		name string
		line string
		want error
	}{
		{"empty frame", "", ErrEmptyFrame},
		{"bare newline", "\n", ErrEmptyFrame},
		{"unknown type", "SHOUT:alice:hi", ErrUnknownType},
		{"lowercase type", "msg:alice:hi", ErrUnknownType},
		{"chat with single field", "MSG:onlyonearg", ErrMissingField},
		{"chat without sender", "MSG::hi", ErrMissingField},
		{"bare chat", "MSG", ErrMissingField},
		{"join without name", "JOIN:", ErrMissingField},
		{"bare join", "JOIN", ErrMissingField},
		{"whisper missing body", "WHISPER:alice:bob", ErrMissingField},
		{"whisper missing recipient", "WHISPER:alice::hi", ErrMissingField},
		{"list with payload", "LIST:alice", ErrUnknownType},
		{"list response with empty user", "LIST_USERS:alice,,bob", ErrMissingField},
		{"quit without name", "QUIT:", ErrMissingField},
		{"bare error", "ERROR", ErrMissingField},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode(tc.line)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, Message{}, msg)
		})
	}
}

func TestDecode_TrailingDelimiters(t *testing.T) {
	t.Run("strips newline", func(t *testing.T) {
		msg, err := Decode("MSG:alice:hi\n")
		require.NoError(t, err)
		assert.Equal(t, NewChat("alice", "hi"), msg)
	})

	t.Run("strips carriage return", func(t *testing.T) {
		msg, err := Decode("JOIN:alice\r\n")
		require.NoError(t, err)
		assert.Equal(t, NewJoin("alice"), msg)
	})
}

func TestDecode_GreedyTrailingBody(t *testing.T) {
	msg, err := Decode("WHISPER:alice:bob:see you at 10:30: ok?")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "bob", msg.Recipient)
	assert.Equal(t, "see you at 10:30: ok?", msg.Body)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "JOIN", KindJoin.String())
	assert.Equal(t, "MSG", KindChat.String())
	assert.Equal(t, "WHISPER", KindWhisper.String())
	assert.Equal(t, "LIST", KindListRequest.String())
	assert.Equal(t, "LIST_USERS", KindListResponse.String())
	assert.Equal(t, "QUIT", KindQuit.String())
	assert.Equal(t, "ERROR", KindError.String())
	assert.Equal(t, "NOTICE", KindNotice.String())
	assert.Equal(t, "UNKNOWN", KindUnknown.String())
}
