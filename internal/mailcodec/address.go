package mailcodec

import (
	"regexp"
	"strings"
)

// Address is a parsed mailbox: display name plus bare address. Address may
// be empty when nothing address-like was found.
type Address struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// String renders the address for display.
func (a Address) String() string {
	switch {
	case a.Address == "":
		return a.Name
	case a.Name == "" || a.Name == a.Address:
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

var (
	// (("Name" NIL "local" "domain")) as emitted in IMAP envelopes.
	envelopeAddr = regexp.MustCompile(
		`\(\(\s*(NIL|"((?:[^"\\]|\\.)*)")\s+(?:NIL|"(?:[^"\\]|\\.)*")\s+"([^"]*)"\s+"([^"]*)"\s*\)`)

	// "Display Name" <local@domain>, quotes optional.
	angleAddr = regexp.MustCompile(`(?:"((?:[^"\\]|\\.)*)"|([^<"]*?))\s*<([^<>@\s]+@[^<>\s]+)>`)

	bareAddr = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// ParseAddress extracts a display name and address from a From/To value.
// Recognized forms, in order: IMAP envelope list, "Name" <addr>, a bare
// address anywhere in the string. Anything else becomes the decoded name
// with an empty address.
func ParseAddress(raw string) Address {
	if m := envelopeAddr.FindStringSubmatch(raw); m != nil {
		addr := m[3] + "@" + m[4]
		name := ""
		if m[1] != "NIL" {
			name = DecodeEncodedHeader(unescapeQuoted(m[2]))
		}
		return withFallbackName(name, addr)
	}

	if m := angleAddr.FindStringSubmatch(raw); m != nil {
		name := m[2]
		if m[1] != "" {
			name = unescapeQuoted(m[1])
		}
		return withFallbackName(DecodeEncodedHeader(strings.TrimSpace(name)), m[3])
	}

	if addr := bareAddr.FindString(raw); addr != "" {
		return Address{Name: addr, Address: addr}
	}

	return Address{Name: DecodeEncodedHeader(strings.TrimSpace(raw))}
}

// ParseAddressList splits a comma separated header value and parses each
// entry. Commas inside quotes do not split.
func ParseAddressList(raw string) []Address {
	var (
		out     []Address
		start   int
		inQuote bool
	)
	flush := func(s string) {
		if strings.TrimSpace(s) == "" {
			return
		}
		out = append(out, ParseAddress(s))
	}
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			i++
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				flush(raw[start:i])
				start = i + 1
			}
		}
	}
	if start <= len(raw) {
		flush(raw[start:])
	}
	return out
}

func withFallbackName(name, addr string) Address {
	name = strings.TrimSpace(name)
	if name == "" {
		name = addr
	}
	return Address{Name: name, Address: addr}
}

func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
