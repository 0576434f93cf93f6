package imapresp

import (
	"bufio"
	"strconv"
	"strings"
)

// RespTextCode is the bracketed "[KEY ...]" code that may prefix the
// human-readable text of an OK/NO/BAD/PREAUTH/BYE response.
//
// Per spec.md §9 Design Notes, the source splits "[KEY ARG1 ARG2...]"
// at the first space after '[' for the textual Tail, but also hands
// PERMANENTFLAGS the remaining *structured* Args from the parser
// rather than the textual tail. Both are preserved here: Tail is
// always the raw substring (used for numeric codes like UIDVALIDITY,
// HIGHESTMODSEQ), and Args is only populated when the code's value is
// itself list-shaped (PERMANENTFLAGS, APPENDUID, COPYUID).
type RespTextCode struct {
	Key  string
	Tail string  // raw text between the key and the closing ']'
	Args []*Arg  // structured parse of Tail, when it is list-shaped
}

// Response is one parsed line of server output.
type Response struct {
	// Tagged is the command tag this line replies to; "*" lines leave
	// this empty and Untagged true; "+" lines leave it empty and
	// Continuation true.
	Tag          string
	Untagged     bool
	Continuation bool

	// Cond is OK/NO/BAD/PREAUTH/BYE when this line carries one
	// (tagged completions always do; untagged status lines usually
	// do; data lines like EXISTS/FETCH do not and Cond is "").
	Cond string

	// Keyword is the first atom after the tag/"*" once Cond is
	// consumed: "EXISTS", "EXPUNGE", "FETCH", "FLAGS", "SEARCH",
	// "LIST", "CAPABILITY", etc. For tagged OK/NO/BAD completions this
	// is the human-readable text's first word, not a protocol keyword.
	Keyword string

	Code *RespTextCode
	Text string // remaining human-readable text

	Args []*Arg // structured args following Keyword, when applicable
}

// ParseLine reads and classifies one response line from br, resolving
// any literal it introduces.
func ParseLine(br *bufio.Reader) (*Response, error) {
	s := NewScanner(br)
	line, err := s.ReadLine()
	if err != nil {
		return nil, err
	}
	return parseLineText(br, line)
}

func parseLineText(br *bufio.Reader, line string) (*Response, error) {
	r := &Response{}
	word, rest := splitWord(line)
	switch {
	case word == "*":
		r.Untagged = true
	case word == "+":
		r.Continuation = true
		r.Text = rest
		return r, nil
	default:
		r.Tag = word
	}

	rest = strings.TrimLeft(rest, " ")
	condWord, afterCond := splitWord(rest)
	switch strings.ToUpper(condWord) {
	case "OK", "NO", "BAD", "PREAUTH", "BYE":
		r.Cond = strings.ToUpper(condWord)
		rest = strings.TrimLeft(afterCond, " ")
		if strings.HasPrefix(rest, "[") {
			code, remainder, err := parseRespTextCode(br, rest)
			if err != nil {
				return nil, err
			}
			r.Code = code
			rest = remainder
		}
		r.Text = rest
		return r, nil
	}

	r.Keyword = strings.ToUpper(condWord)
	args, err := ParseArgs(br, afterCond)
	if err != nil {
		return nil, err
	}
	r.Args = args
	return r, nil
}

func parseRespTextCode(br *bufio.Reader, s string) (code *RespTextCode, remainder string, err error) {
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return nil, "", &ParseError{Msg: "imapresp: unterminated response-text code in " + strconv.Quote(s)}
	}
	inner := s[1:end]
	remainder = strings.TrimLeft(s[end+1:], " ")

	key, tail := splitWord(inner)
	code = &RespTextCode{Key: strings.ToUpper(key), Tail: strings.TrimLeft(tail, " ")}
	if strings.HasPrefix(code.Tail, "(") {
		args, err := ParseArgs(br, code.Tail)
		if err != nil {
			return nil, "", err
		}
		code.Args = args
	}
	return code, remainder, nil
}

func splitWord(s string) (word, rest string) {
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

// ParseError reports a malformed server response (spec.md §7,
// ProtocolError).
type ParseError struct{ Msg string }

func (e *ParseError) Error() string { return e.Msg }
