package mailbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/support-inbox/internal/mailcodec"
	"github.com/nhle/support-inbox/internal/model"
)

// previewLength bounds the preview text in runes.
const previewLength = 100

var errNoHeader = errors.New("missing header section")

// summaryFromRaw converts one fetched message into a MessageSummary.
func summaryFromRaw(mailboxID string, raw RawMessage) (model.MessageSummary, error) {
	if raw.Err != nil {
		return model.MessageSummary{}, raw.Err
	}
	if raw.UID == 0 {
		return model.MessageSummary{}, errors.New("missing uid")
	}

	h, err := parseHeader(raw.Header)
	if err != nil {
		return model.MessageSummary{}, err
	}

	from := mailcodec.ParseAddress(unfold(h.Get("From")))
	subject := strings.TrimSpace(mailcodec.DecodeEncodedHeader(unfold(h.Get("Subject"))))

	var to []string
	for _, a := range mailcodec.ParseAddressList(unfold(h.Get("To"))) {
		if a.Address != "" {
			to = append(to, a.Address)
		}
	}

	date := raw.InternalDate
	if v := h.Get("Date"); v != "" {
		mh := mail.Header{Header: message.Header{Header: h}}
		if d, err := mh.Date(); err == nil {
			date = d
		} else if date.IsZero() {
			return model.MessageSummary{}, fmt.Errorf("parsing date %q: %w", v, err)
		}
	}

	seen, flagged := false, false
	for _, f := range raw.Flags {
		switch f {
		case imap.FlagSeen:
			seen = true
		case imap.FlagFlagged:
			flagged = true
		}
	}

	return model.MessageSummary{
		ID:              model.MessageID(mailboxID, raw.UID),
		ConversationID:  model.ConversationID(mailboxID, raw.UID),
		MailboxID:       mailboxID,
		UID:             raw.UID,
		From:            from.Name,
		FromAddress:     from.Address,
		To:              to,
		Subject:         subject,
		Preview:         truncate(subject, previewLength),
		MessageIDHeader: strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>"),
		Date:            date,
		Read:            seen,
		Starred:         flagged,
		HasAttachments:  raw.HasAttachments,
		Status:          model.InitialStatus(seen),
	}, nil
}

// parseHeader reads a header block. The block need not carry the
// terminating blank line.
func parseHeader(b []byte) (textproto.Header, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return textproto.Header{}, errNoHeader
	}
	if !bytes.HasSuffix(b, []byte("\r\n\r\n")) && !bytes.HasSuffix(b, []byte("\n\n")) {
		b = append(append([]byte(nil), b...), "\r\n\r\n"...)
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(b)))
	if err != nil {
		return textproto.Header{}, fmt.Errorf("reading header: %w", err)
	}
	return h, nil
}

var unfolder = strings.NewReplacer("\r\n ", " ", "\r\n\t", " ", "\n ", " ", "\n\t", " ", "\r\n", "", "\n", "")

func unfold(s string) string {
	return unfolder.Replace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

// sortNewestFirst orders by date, then by UID, both descending.
func sortNewestFirst(msgs []model.MessageSummary) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Date.Equal(msgs[j].Date) {
			return msgs[i].Date.After(msgs[j].Date)
		}
		return msgs[i].UID > msgs[j].UID
	})
}
