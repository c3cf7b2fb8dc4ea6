package mailcodec

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"

	"github.com/nhle/support-inbox/internal/model"
)

var (
	boundaryParam = regexp.MustCompile(`(?i)boundary\s*=\s*"?([^";\r\n]+)"?`)
	headerLine    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*:\s?`)
	mimeHeader    = regexp.MustCompile(`(?i)^(content-[a-z-]+|mime-version):`)
	htmlMarker    = regexp.MustCompile(`(?i)<(html|body|div|p|br|table)[\s>/]`)
)

// part is one leaf of a loosely parsed MIME body.
type part struct {
	contentType string
	encoding    string
	body        string
}

// ExtractReadableBody returns the best plain-text rendering of a raw body.
// It prefers a text/plain part, falls back to text/html converted to text,
// and otherwise strips boundary markers and MIME header lines. It never
// fails; empty input yields "".
func ExtractReadableBody(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	var parts []part
	if m := boundaryParam.FindStringSubmatch(raw); m != nil {
		parts = splitMultipart(raw, strings.TrimSpace(m[1]))
	} else if hdr, body, ok := splitHeaders(raw); ok && hdr["content-type"] != "" {
		parts = []part{{
			contentType: hdr["content-type"],
			encoding:    hdr["content-transfer-encoding"],
			body:        body,
		}}
	}

	if p, ok := findPart(parts, "text/plain"); ok {
		return strings.TrimSpace(decodeTransfer(p))
	}
	if p, ok := findPart(parts, "text/html"); ok {
		return HTMLToText(decodeTransfer(p))
	}

	cleaned := stripStructure(raw)
	if htmlMarker.MatchString(cleaned) {
		return HTMLToText(cleaned)
	}
	return cleaned
}

// splitMultipart returns the leaf parts under boundary, descending into
// nested multiparts that declare their own boundary.
func splitMultipart(raw, boundary string) []part {
	delim := "--" + boundary
	chunks := strings.Split(raw, delim)
	if len(chunks) < 2 {
		return nil
	}

	var parts []part
	// chunks[0] is the preamble (or the outer headers).
	for _, chunk := range chunks[1:] {
		if strings.HasPrefix(chunk, "--") {
			break
		}
		// Drop the remainder of the delimiter line.
		if i := strings.IndexByte(chunk, '\n'); i >= 0 {
			chunk = chunk[i+1:]
		}
		var (
			hdr  map[string]string
			body string
		)
		if strings.HasPrefix(chunk, "\n") {
			hdr, body = map[string]string{}, chunk[1:]
		} else {
			var ok bool
			if hdr, body, ok = splitHeaders(chunk); !ok {
				continue
			}
		}
		ct := hdr["content-type"]
		if strings.HasPrefix(strings.ToLower(ct), "multipart/") {
			if m := boundaryParam.FindStringSubmatch(ct); m != nil {
				parts = append(parts, splitMultipart(body, strings.TrimSpace(m[1]))...)
				continue
			}
		}
		if ct == "" {
			ct = "text/plain"
		}
		parts = append(parts, part{
			contentType: ct,
			encoding:    hdr["content-transfer-encoding"],
			body:        strings.TrimRight(body, "\n"),
		})
	}
	return parts
}

// splitHeaders separates a header block from its body. Header names are
// lower-cased and folded lines joined.
func splitHeaders(s string) (map[string]string, string, bool) {
	idx := strings.Index(s, "\n\n")
	var head, body string
	if idx < 0 {
		head = s
	} else {
		head, body = s[:idx], s[idx+2:]
	}

	hdr := make(map[string]string)
	var last string
	for _, line := range strings.Split(head, "\n") {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && last != "" {
			hdr[last] += " " + strings.TrimSpace(line)
			continue
		}
		if !headerLine.MatchString(line) {
			return nil, "", false
		}
		name, value, _ := strings.Cut(line, ":")
		last = strings.ToLower(strings.TrimSpace(name))
		hdr[last] = strings.TrimSpace(value)
	}
	return hdr, body, len(hdr) > 0
}

func findPart(parts []part, mediaType string) (part, bool) {
	for _, p := range parts {
		if strings.HasPrefix(strings.ToLower(p.contentType), mediaType) {
			return p, true
		}
	}
	return part{}, false
}

// decodeTransfer handles quoted-printable; other encodings pass through.
func decodeTransfer(p part) string {
	if strings.EqualFold(strings.TrimSpace(p.encoding), "quoted-printable") {
		return DecodeQuotedPrintable(p.body)
	}
	return p.body
}

// stripStructure is the last-resort cleanup for bodies without a usable
// MIME structure. Boundary markers and MIME header lines are dropped
// anywhere; a header block at the start or after a boundary is dropped
// whole when a blank line closes it.
func stripStructure(raw string) string {
	var kept, block []string
	inBlock := true
	flush := func() {
		for _, l := range block {
			if !mimeHeader.MatchString(strings.TrimSpace(l)) {
				kept = append(kept, l)
			}
		}
		block = nil
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") && len(trimmed) > 2 && !strings.Contains(trimmed, " ") {
			flush()
			inBlock = true
			continue
		}
		if inBlock {
			switch {
			case trimmed == "":
				if len(block) > 0 {
					// Closed header block.
					block = nil
					inBlock = false
					continue
				}
			case headerLine.MatchString(line),
				len(block) > 0 && (line[0] == ' ' || line[0] == '\t'):
				block = append(block, line)
				continue
			default:
				flush()
				inBlock = false
			}
		}
		if mimeHeader.MatchString(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	flush()
	return cleanupWhitespace(strings.Join(kept, "\n"))
}

// HTMLToText converts HTML content to plain text.
func HTMLToText(htmlContent string) string {
	if htmlContent == "" {
		return ""
	}
	return cleanupWhitespace(html2text.HTML2Text(htmlContent))
}

// cleanupWhitespace removes excessive blank lines while preserving structure.
func cleanupWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	blankCount := 0

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankCount++
			if blankCount <= 2 {
				result = append(result, "")
			}
			continue
		}
		blankCount = 0
		result = append(result, line)
	}

	return strings.TrimSpace(strings.Join(result, "\n"))
}

// Body is the decoded content of a complete message.
type Body struct {
	Text        string
	HTML        string
	Attachments []model.Attachment
}

// Readable returns the text part, or the HTML part rendered as text.
func (b Body) Readable() string {
	if strings.TrimSpace(b.Text) != "" {
		return strings.TrimSpace(b.Text)
	}
	return HTMLToText(b.HTML)
}

// ParseFullMessage parses a complete RFC 5322 message. When the MIME
// structure cannot be read it falls back to ExtractReadableBody.
func ParseFullMessage(raw []byte) Body {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Body{Text: ExtractReadableBody(string(raw))}
	}
	defer mr.Close()

	var b Body
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep what was read so far; the loose parser covers the rest.
			if b.Text == "" && b.HTML == "" {
				b.Text = ExtractReadableBody(string(raw))
			}
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(p.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && b.Text == "":
				b.Text = string(body)
			case strings.HasPrefix(contentType, "text/html") && b.HTML == "":
				b.HTML = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			n, readErr := io.Copy(io.Discard, p.Body)
			if readErr != nil {
				continue
			}
			b.Attachments = append(b.Attachments, model.Attachment{
				Filename: DecodeEncodedHeader(filename),
				Size:     n,
				MIMEType: contentType,
			})
		}
	}
	return b
}
