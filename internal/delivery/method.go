package delivery

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindEmail   Kind = "email"
	KindDiscord Kind = "discord"
	KindUnknown Kind = "unknown"
)

// Method is a parsed delivery setting: "email" or "discord:<mention-id>".
type Method struct {
	Kind Kind
	// MentionID is the Discord user to mention; empty for email.
	MentionID string
	Raw       string
}

// ParseMethod never fails; anything unrecognized becomes KindUnknown and
// "discord" without an id keeps an empty MentionID. The dispatcher decides
// what is fatal.
func ParseMethod(raw string) Method {
	s := strings.TrimSpace(raw)
	switch {
	case s == string(KindEmail):
		return Method{Kind: KindEmail, Raw: raw}
	case s == string(KindDiscord):
		return Method{Kind: KindDiscord, Raw: raw}
	case strings.HasPrefix(s, string(KindDiscord)+":"):
		id := strings.TrimSpace(strings.TrimPrefix(s, string(KindDiscord)+":"))
		return Method{Kind: KindDiscord, MentionID: id, Raw: raw}
	default:
		return Method{Kind: KindUnknown, Raw: raw}
	}
}

func (m Method) String() string {
	if m.Kind == KindDiscord {
		return string(KindDiscord) + ":" + m.MentionID
	}
	if m.Kind == KindEmail {
		return string(KindEmail)
	}
	return m.Raw
}

// ValidateSetting checks a value a user asks to store. It is stricter than
// ParseMethod: Discord mention ids must be numeric snowflakes.
func ValidateSetting(raw string) (Method, error) {
	m := ParseMethod(raw)
	switch m.Kind {
	case KindEmail:
		return m, nil
	case KindDiscord:
		if m.MentionID == "" {
			return Method{}, fmt.Errorf("discord delivery needs a mention id, e.g. discord:123456789012345678")
		}
		for _, r := range m.MentionID {
			if r < '0' || r > '9' {
				return Method{}, fmt.Errorf("invalid discord mention id: %q", m.MentionID)
			}
		}
		return m, nil
	default:
		return Method{}, fmt.Errorf("unknown delivery method: %q", raw)
	}
}
