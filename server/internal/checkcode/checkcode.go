// Package checkcode parses the raw check-in code carried by the attendance
// QR code and mints a fresh code from a stored session.
//
// The grammar is fixed:
//
//	checkwork|id=<digits>&siteId=<digits>&createTime=<token>&classLessonId=<digits>
package checkcode

import (
	"errors"
	"regexp"
	"strings"
)

// Tag prefixes every check-in code.
const Tag = "checkwork"

var (
	// ErrParse is returned when raw input is not a check-in code.
	ErrParse = errors.New("not a check-in code")

	// ErrMissingData is returned when a session has never been scanned.
	ErrMissingData = errors.New("session has no scan data")

	// ErrExpired is returned when a session is flagged expired.
	ErrExpired = errors.New("session expired")
)

var codePattern = regexp.MustCompile(
	`^checkwork\|id=(\d+)&siteId=(\d+)&createTime=([^&]+)&classLessonId=(\d+)$`,
)

// Code is the decoded content of one check-in code.
type Code struct {
	ID           string
	SecondaryID  string
	ObservedTime string
	Key          string
}

// Parse extracts a Code from raw. It reports false for anything that is not
// exactly one check-in code; surrounding whitespace is ignored.
func Parse(raw string) (Code, bool) {
	m := codePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Code{}, false
	}
	return Code{
		ID:           m[1],
		Key:          m[2],
		ObservedTime: m[3],
		SecondaryID:  m[4],
	}, true
}

// String renders c in the check-in code grammar.
func (c Code) String() string {
	var b strings.Builder
	b.Grow(len(Tag) + len(c.ID) + len(c.Key) + len(c.ObservedTime) + len(c.SecondaryID) + 48)
	b.WriteString(Tag)
	b.WriteString("|id=")
	b.WriteString(c.ID)
	b.WriteString("&siteId=")
	b.WriteString(c.Key)
	b.WriteString("&createTime=")
	b.WriteString(c.ObservedTime)
	b.WriteString("&classLessonId=")
	b.WriteString(c.SecondaryID)
	return b.String()
}
