// Package protocol implements the line-oriented chat wire protocol. Each
// frame is one UTF-8 text line terminated by '\n', with fields separated by
// ':' and the message body always in the final position so that free-text
// content may contain the separator verbatim.
package protocol

// Kind identifies the variant of a Message. A decoded Message is always
// exactly one variant; the zero Kind is never produced by Decode.
type Kind int

const (
	KindUnknown Kind = iota
	KindJoin
	KindChat
	KindWhisper
	KindListRequest
	KindListResponse
	KindQuit
	KindError
	KindNotice
)

// String returns the wire type word for the kind, or "UNKNOWN".
func (k Kind) String() string {
	switch k {
	case KindJoin:
		return typeJoin
	case KindChat:
		return typeChat
	case KindWhisper:
		return typeWhisper
	case KindListRequest:
		return typeListRequest
	case KindListResponse:
		return typeListResponse
	case KindQuit:
		return typeQuit
	case KindError:
		return typeError
	case KindNotice:
		return typeNotice
	default:
		return "UNKNOWN"
	}
}

// Message is one unit of the wire protocol. Only the fields required by its
// Kind are populated; all other fields hold their zero value.
type Message struct {
	Kind      Kind
	Sender    string   // Join, Chat, Whisper, Quit
	Recipient string   // Whisper
	Body      string   // Chat, Whisper, Error, Notice
	Users     []string // ListResponse
}

// NewJoin builds a Join message announcing the given username.
func NewJoin(username string) Message {
	return Message{Kind: KindJoin, Sender: username}
}

// NewChat builds a Chat message from sender with the given body.
func NewChat(sender, body string) Message {
	return Message{Kind: KindChat, Sender: sender, Body: body}
}

// NewWhisper builds a private Whisper message from sender to recipient.
func NewWhisper(sender, recipient, body string) Message {
	return Message{Kind: KindWhisper, Sender: sender, Recipient: recipient, Body: body}
}

// NewListRequest builds a request for the current user directory.
func NewListRequest() Message {
	return Message{Kind: KindListRequest}
}

// NewListResponse builds a directory response carrying the given usernames.
// The order of users is preserved on the wire.
func NewListResponse(users []string) Message {
	return Message{Kind: KindListResponse, Users: users}
}

// NewQuit builds a Quit message for the given username.
func NewQuit(username string) Message {
	return Message{Kind: KindQuit, Sender: username}
}

// NewError builds an Error message with the given text.
func NewError(text string) Message {
	return Message{Kind: KindError, Body: text}
}

// NewNotice builds a system notice with the given text.
func NewNotice(text string) Message {
	return Message{Kind: KindNotice, Body: text}
}
