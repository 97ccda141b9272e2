package report

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// ParseErrorMessage is the failure message recorded in fallback documents.
const ParseErrorMessage = "parse error"

// MalformedError reports a captured body that is not a well-formed XML
// document.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed report: %s", e.Reason)
}

// IsMalformed returns true if err is (or wraps) a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// CheckWellFormed returns a *MalformedError unless body is a well-formed XML
// document with exactly one root element. Comments, processing instructions
// and whitespace may surround the root element.
func CheckWellFormed(body []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(body))

	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedError{Reason: err.Error()}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return &MalformedError{Reason: fmt.Sprintf("second root element <%s>", t.Name.Local)}
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return &MalformedError{Reason: "text outside of the root element"}
			}
		}
	}

	if roots == 0 {
		return &MalformedError{Reason: "no root element"}
	}
	return nil
}

// JUnit elements used for fallback documents.
type testSuites struct {
	XMLName   xml.Name  `xml:"testsuites"`
	TestSuite testSuite `xml:"testsuite"`
}

type testSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	TestCase []*testCase `xml:"testcase"`
}

type testCase struct {
	Name    string     `xml:"name,attr"`
	Failure []*failure `xml:"failure,omitempty"`
}

type failure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Details string `xml:",cdata"`
}

// Fallback returns a minimal JUnit XML document for a test whose captured
// output could not be parsed. The document records a single failed test case
// with ParseErrorMessage as its failure message and detail as the failure
// body.
func Fallback(name, detail string) []byte {
	doc := testSuites{
		TestSuite: testSuite{
			Name:     name,
			Tests:    1,
			Failures: 1,
			TestCase: []*testCase{{
				Name: name,
				Failure: []*failure{{
					Message: ParseErrorMessage,
					Type:    "error",
					Details: detail,
				}},
			}},
		},
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		// Only plain strings and ints are marshalled.
		panic(fmt.Sprintf("report: marshalling fallback document: %v", err))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(data)
	buf.WriteByte('\n')
	return buf.Bytes()
}
