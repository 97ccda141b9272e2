// Package protocol recognizes the marker lines a subject prints around its
// tests and turns the subject's output into test records.
//
// # Marker Lines
//
// Markers are XML comments on a line of their own, so that they stay
// harmless inside the XML reports they delimit:
//
//	<!-- Start NAME -->
//	<!-- Finish NAME STATUS -->
//	<!-- Completed STATUS (3 passed 0 failed 0 skipped 3 total) -->
//
// STATUS is OK, FAIL or SKIP; any other token is treated as FAIL. Text after
// the status of a Completed marker is kept as free-form detail.
//
// Every other line is ordinary output. Lines printed between the Start and
// Finish markers of a test form that test's captured body.
package protocol

import "strings"

// Kind identifies the type of a line.
type Kind int

const (
	// KindNone is an ordinary output line.
	KindNone Kind = iota
	// KindStart opens the capture of one test.
	KindStart
	// KindFinish closes the capture of one test and carries its status.
	KindFinish
	// KindCompleted ends one iteration of the whole suite.
	KindCompleted
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "Start"
	case KindFinish:
		return "Finish"
	case KindCompleted:
		return "Completed"
	default:
		return "None"
	}
}

// Status is the status token of a Finish or Completed marker.
type Status string

const (
	StatusOK   Status = "OK"
	StatusFail Status = "FAIL"
	StatusSkip Status = "SKIP"
)

// ParseStatus maps a status token to a Status. Unknown tokens are failures.
func ParseStatus(token string) Status {
	switch token {
	case "OK":
		return StatusOK
	case "SKIP":
		return StatusSkip
	default:
		return StatusFail
	}
}

// Passed reports whether the status does not count as a failure.
// Skipped tests pass.
func (s Status) Passed() bool {
	return s == StatusOK || s == StatusSkip
}

// Marker is the classification of a single line.
type Marker struct {
	Kind   Kind
	Name   string // test name (Start, Finish)
	Status Status // Finish, Completed
	Token  string // raw status token as printed
	Detail string // trailing text of a Completed marker
}

const (
	commentOpen  = "<!--"
	commentClose = "-->"
)

// Classify returns the marker carried by line, or a Marker with KindNone
// for ordinary output. Surrounding whitespace, including the carriage return
// of CRLF line endings, is ignored.
func Classify(line string) Marker {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, commentOpen) || !strings.HasSuffix(s, commentClose) || len(s) < len(commentOpen)+len(commentClose) {
		return Marker{}
	}
	inner := strings.TrimSpace(s[len(commentOpen) : len(s)-len(commentClose)])

	keyword, rest, _ := strings.Cut(inner, " ")
	rest = strings.TrimSpace(rest)

	switch keyword {
	case "Start":
		if rest == "" {
			return Marker{}
		}
		return Marker{Kind: KindStart, Name: rest}

	case "Finish":
		i := strings.LastIndexByte(rest, ' ')
		if i < 0 {
			return Marker{}
		}
		name := strings.TrimSpace(rest[:i])
		token := rest[i+1:]
		if name == "" || token == "" {
			return Marker{}
		}
		return Marker{Kind: KindFinish, Name: name, Status: ParseStatus(token), Token: token}

	case "Completed":
		token, detail, _ := strings.Cut(rest, " ")
		if token == "" {
			return Marker{}
		}
		return Marker{Kind: KindCompleted, Status: ParseStatus(token), Token: token, Detail: strings.TrimSpace(detail)}
	}

	return Marker{}
}
