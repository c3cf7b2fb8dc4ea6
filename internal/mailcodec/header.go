// Package mailcodec turns transport-encoded mail headers, addresses and
// bodies into readable text. Every function degrades to returning its input
// rather than failing.
package mailcodec

import (
	"bytes"
	"encoding/base64"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
)

// encodedWord matches one RFC 2047 encoded word.
var encodedWord = regexp.MustCompile(`=\?([^?\s]+)\?([BbQq])\?([^?\s]*)\?=`)

// DecodeEncodedHeader decodes every =?charset?B|Q?data?= word in raw.
// Literal text around the words is kept verbatim and a word that cannot be
// decoded is left as it was.
func DecodeEncodedHeader(raw string) string {
	if !strings.Contains(raw, "=?") {
		return raw
	}
	return encodedWord.ReplaceAllStringFunc(raw, func(word string) string {
		m := encodedWord.FindStringSubmatch(word)
		if m == nil {
			return word
		}
		decoded, ok := decodeWord(m[1], m[2], m[3])
		if !ok {
			return word
		}
		return decoded
	})
}

func decodeWord(cs, enc, payload string) (string, bool) {
	var data []byte
	switch enc {
	case "B", "b":
		b, ok := decodeBase64(payload)
		if !ok {
			return "", false
		}
		data = b
	case "Q", "q":
		data = decodeQP(strings.ReplaceAll(payload, "_", " "))
	default:
		return "", false
	}
	return toUTF8(cs, data), true
}

func decodeBase64(payload string) ([]byte, bool) {
	if b, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return b, true
	}
	// Some senders drop the padding.
	if b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err == nil {
		return b, true
	}
	return nil, false
}

// toUTF8 converts data from the named charset. Unknown charsets leave the
// bytes untouched.
func toUTF8(cs string, data []byte) string {
	// RFC 2231 allows a language suffix: utf-8*en.
	if i := strings.IndexByte(cs, '*'); i >= 0 {
		cs = cs[:i]
	}
	switch strings.ToLower(cs) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return string(data)
	}
	r, err := charset.Reader(cs, bytes.NewReader(data))
	if err != nil {
		return string(data)
	}
	out, err := io.ReadAll(r)
	if err != nil || !utf8.Valid(out) {
		return string(data)
	}
	return string(out)
}

// DecodeQuotedPrintable replaces =XX escapes with the bytes they encode and
// removes soft line breaks. Escapes that are not valid hex are kept as
// literal text.
func DecodeQuotedPrintable(text string) string {
	if !strings.Contains(text, "=") {
		return text
	}
	return string(decodeQP(text))
}

func decodeQP(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '=' {
			out = append(out, c)
			continue
		}
		if n := softBreakLen(s[i+1:]); n > 0 {
			i += n
			continue
		}
		if i+2 < len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// softBreakLen returns how many bytes after '=' belong to a soft line break,
// allowing trailing transport padding before the line terminator.
func softBreakLen(rest string) int {
	j := 0
	for j < len(rest) && (rest[j] == ' ' || rest[j] == '\t') {
		j++
	}
	switch {
	case strings.HasPrefix(rest[j:], "\r\n"):
		return j + 2
	case strings.HasPrefix(rest[j:], "\n"):
		return j + 1
	}
	return 0
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
