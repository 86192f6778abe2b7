package protocol

import (
	"errors"
	"strings"
)

// Wire type words, the first field of every frame.
const (
	typeJoin         = "JOIN"
	typeChat         = "MSG"
	typeWhisper      = "WHISPER"
	typeListRequest  = "LIST"
	typeListResponse = "LIST_USERS"
	typeQuit         = "QUIT"
	typeError        = "ERROR"
	typeNotice       = "NOTICE"
)

const (
	fieldSeparator = ":"
	userSeparator  = ","
)

var (
	// ErrUnknownType is returned by Decode when the frame's type word is not
	// part of the protocol.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrMissingField is returned by Decode when a frame lacks a required field.
	ErrMissingField = errors.New("protocol: missing required field")

	// ErrEmptyFrame is returned by Decode for a blank line.
	ErrEmptyFrame = errors.New("protocol: empty frame")

	// ErrReservedCharacter is returned by Encode when a field contains the
	// frame delimiter, or the field separator in a non-final position.
	// Content is rejected rather than escaped; Decode applies the same rules
	// in reverse, so every encodable message round-trips.
	ErrReservedCharacter = errors.New("protocol: reserved character in field")
)

// Encode serializes a Message into a single frame without the trailing '\n'
// delimiter; the transport layer appends it. Field content that would break
// framing is rejected: no field may contain '\n', and non-final fields may
// not contain ':'. The final field (the body of MSG, WHISPER, ERROR and
// NOTICE frames, or the username of JOIN and QUIT frames) may contain ':'
// verbatim.
//
// Parameters:
//   - m: The message to serialize
//
// Returns:
//   - The encoded frame, or an error if the message has an unknown kind,
//     lacks a required field, or a field contains a reserved character
func Encode(m Message) (string, error) {
	switch m.Kind {
	case KindJoin:
		if m.Sender == "" {
			return "", ErrMissingField
		}
		if err := checkLastField(m.Sender); err != nil {
			return "", err
		}
		return typeJoin + fieldSeparator + m.Sender, nil
	case KindChat:
		if m.Sender == "" {
			return "", ErrMissingField
		}
		if err := checkField(m.Sender); err != nil {
			return "", err
		}
		if err := checkLastField(m.Body); err != nil {
			return "", err
		}
		return typeChat + fieldSeparator + m.Sender + fieldSeparator + m.Body, nil
	case KindWhisper:
		if m.Sender == "" || m.Recipient == "" {
			return "", ErrMissingField
		}
		if err := checkField(m.Sender); err != nil {
			return "", err
		}
		if err := checkField(m.Recipient); err != nil {
			return "", err
		}
		if err := checkLastField(m.Body); err != nil {
			return "", err
		}
		return typeWhisper + fieldSeparator + m.Sender + fieldSeparator + m.Recipient + fieldSeparator + m.Body, nil
	case KindListRequest:
		return typeListRequest, nil
	case KindListResponse:
		for _, u := range m.Users {
			if u == "" {
				return "", ErrMissingField
			}
			if err := checkField(u); err != nil {
				return "", err
			}
			if strings.Contains(u, userSeparator) {
				return "", ErrReservedCharacter
			}
		}
		return typeListResponse + fieldSeparator + strings.Join(m.Users, userSeparator), nil
	case KindQuit:
		if m.Sender == "" {
			return "", ErrMissingField
		}
		if err := checkLastField(m.Sender); err != nil {
			return "", err
		}
		return typeQuit + fieldSeparator + m.Sender, nil
	case KindError:
		if err := checkLastField(m.Body); err != nil {
			return "", err
		}
		return typeError + fieldSeparator + m.Body, nil
	case KindNotice:
		if err := checkLastField(m.Body); err != nil {
			return "", err
		}
		return typeNotice + fieldSeparator + m.Body, nil
	default:
		return "", ErrUnknownType
	}
}

// Decode parses a single frame into a Message. The line may carry a trailing
// "\r\n" or "\n", which is stripped before parsing. Decode never panics and
// never returns a partially populated Message together with a nil error: on
// malformed input the zero Message and a typed error are returned.
//
// Parameters:
//   - line: One frame, with or without its trailing delimiter
//
// Returns:
//   - The decoded message, or ErrEmptyFrame, ErrUnknownType or
//     ErrMissingField describing why the frame was rejected
func Decode(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Message{}, ErrEmptyFrame
	}

	head, rest, hasFields := strings.Cut(line, fieldSeparator)
	switch head {
	case typeJoin:
		if !hasFields || rest == "" {
			return Message{}, ErrMissingField
		}
		return NewJoin(rest), nil
	case typeChat:
		sender, body, ok := strings.Cut(rest, fieldSeparator)
		if !hasFields || !ok || sender == "" {
			return Message{}, ErrMissingField
		}
		return NewChat(sender, body), nil
	case typeWhisper:
		parts := strings.SplitN(rest, fieldSeparator, 3)
		if !hasFields || len(parts) < 3 || parts[0] == "" || parts[1] == "" {
			return Message{}, ErrMissingField
		}
		return NewWhisper(parts[0], parts[1], parts[2]), nil
	case typeListRequest:
		// A LIST frame carries no fields.
		if hasFields && rest != "" {
			return Message{}, ErrUnknownType
		}
		return NewListRequest(), nil
	case typeListResponse:
		if !hasFields {
			return Message{}, ErrMissingField
		}
		if rest == "" {
			return NewListResponse(nil), nil
		}
		users := strings.Split(rest, userSeparator)
		for _, u := range users {
			if u == "" {
				return Message{}, ErrMissingField
			}
		}
		return NewListResponse(users), nil
	case typeQuit:
		if !hasFields || rest == "" {
			return Message{}, ErrMissingField
		}
		return NewQuit(rest), nil
	case typeError:
		if !hasFields {
			return Message{}, ErrMissingField
		}
		return NewError(rest), nil
	case typeNotice:
		if !hasFields {
			return Message{}, ErrMissingField
		}
		return NewNotice(rest), nil
	default:
		return Message{}, ErrUnknownType
	}
}

// checkField validates a non-final field: it may contain neither the frame
// delimiter nor the field separator.
func checkField(s string) error {
	if strings.ContainsAny(s, fieldSeparator+"\n") {
		return ErrReservedCharacter
	}
	return nil
}

// checkLastField validates the final, greedily captured field: only the
// frame delimiter is forbidden.
func checkLastField(s string) error {
	if strings.Contains(s, "\n") {
		return ErrReservedCharacter
	}
	return nil
}
