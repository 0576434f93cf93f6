// Package mailboxsource supplies the message bodies an APPEND driver
// stages onto the wire. It is the "mailbox-source subsystem"
// collaborator spec.md §1 calls out as a necessary dependency while
// keeping its own body-generation logic out of scope: this core only
// needs a size/date and a byte stream, not a MIME builder.
package mailboxsource

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// Source supplies successive message bodies for APPEND. GetNextSize
// returns the next message's primary (psize) and virtual (vsize, the
// size as the server will report it, e.g. after CRLF normalization)
// sizes, its INTERNALDATE and time zone, and ok=false once the source
// is exhausted. InputStream opens a fresh reader over the most
// recently sized message; it may be called at most once per
// GetNextSize call.
type Source interface {
	GetNextSize() (psize, vsize int64, date time.Time, tz *time.Location, ok bool)
	InputStream() (io.Reader, error)
}

// Static cycles through a fixed, in-memory set of message bodies,
// grounded on imap/imaptest/servertest.go's initUser, which loads a
// handful of testdata/*.eml fixtures into *iox.BufferFile values and
// APPENDs them round-robin. Here the bodies are supplied directly as
// []byte (callers load testdata themselves), since this package must
// not depend on any particular on-disk layout.
type Static struct {
	Bodies [][]byte
	Dates  []time.Time // optional; zero entries fall back to time.Now()
	TZ     *time.Location

	idx     int
	current []byte
}

// NewStatic returns a Static source cycling through bodies in order,
// stamping every message with the same INTERNALDATE timestamp in loc
// (nil means time.UTC).
func NewStatic(bodies [][]byte, loc *time.Location) *Static {
	return &Static{Bodies: bodies, TZ: loc}
}

func (s *Static) GetNextSize() (psize, vsize int64, date time.Time, tz *time.Location, ok bool) {
	if len(s.Bodies) == 0 {
		return 0, 0, time.Time{}, nil, false
	}
	s.current = s.Bodies[s.idx%len(s.Bodies)]
	if s.idx < len(s.Dates) && !s.Dates[s.idx].IsZero() {
		date = s.Dates[s.idx]
	} else {
		date = time.Now()
	}
	s.idx++
	tz = s.TZ
	if tz == nil {
		tz = time.UTC
	}
	return int64(len(s.current)), int64(len(s.current)), date, tz, true
}

func (s *Static) InputStream() (io.Reader, error) {
	if s.current == nil {
		return nil, fmt.Errorf("mailboxsource: InputStream called before GetNextSize")
	}
	return bytes.NewReader(s.current), nil
}

// Synthetic generates message bodies of a fixed size on demand, for
// runs that want to exercise literal staging without shipping fixture
// files (spec.md §6's "control interface" allows a run to request a
// fixed message size distribution).
type Synthetic struct {
	Size     int64
	Subject  string
	Sender   string
	Count    int // number of messages this source will yield; 0 means unbounded

	issued int
}

func (s *Synthetic) GetNextSize() (psize, vsize int64, date time.Time, tz *time.Location, ok bool) {
	if s.Count > 0 && s.issued >= s.Count {
		return 0, 0, time.Time{}, nil, false
	}
	s.issued++
	return s.Size, s.Size, time.Now(), time.UTC, true
}

func (s *Synthetic) InputStream() (io.Reader, error) {
	header := fmt.Sprintf("From: %s\r\nSubject: %s\r\n\r\n", s.Sender, s.Subject)
	body := make([]byte, 0, s.Size)
	body = append(body, header...)
	for int64(len(body)) < s.Size {
		body = append(body, 'x')
	}
	return bytes.NewReader(body[:s.Size]), nil
}
