package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CursorType identifies how a Cursor value is interpreted.
type CursorType string

const (
	CursorPR        CursorType = "pr"
	CursorCommit    CursorType = "commit"
	CursorTimestamp CursorType = "timestamp"
)

// ErrCursorTypeMismatch is returned when comparing cursors of different types.
var ErrCursorTypeMismatch = errors.New("cursor types differ")

// Cursor is an opaque, forward-only position marker for incremental fetches.
// The zero Cursor means "nothing fetched yet" and sorts before every other
// cursor. Cursors serialize as "<type>:<value>".
type Cursor struct {
	Type  CursorType
	Value string
}

// Position is a point in fetch order reported by a fetched item. Type is
// CursorPR when the item should be positioned by number, otherwise At is used.
type Position struct {
	Type   CursorType
	Number int
	At     time.Time
}

// NewCursor validates value for the given type and returns the cursor.
// The value is stored verbatim so that ParseCursor(c.String()) round-trips.
func NewCursor(t CursorType, value string) (Cursor, error) {
	c := Cursor{Type: t, Value: value}
	if err := c.validate(); err != nil {
		return Cursor{}, err
	}
	return c, nil
}

// PRCursor returns a cursor positioned at pull request number n.
func PRCursor(n int) Cursor {
	return Cursor{Type: CursorPR, Value: strconv.Itoa(n)}
}

// TimestampCursor returns a cursor positioned at t, normalized to UTC.
func TimestampCursor(t time.Time) Cursor {
	return Cursor{Type: CursorTimestamp, Value: t.UTC().Format(time.RFC3339Nano)}
}

// ParseCursor parses a serialized cursor. The empty string yields the zero Cursor.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	typ, value, ok := strings.Cut(s, ":")
	if !ok {
		return Cursor{}, fmt.Errorf("parse cursor %q: missing type separator", s)
	}
	c, err := NewCursor(CursorType(typ), value)
	if err != nil {
		return Cursor{}, fmt.Errorf("parse cursor %q: %w", s, err)
	}
	return c, nil
}

// IsZero reports whether c is the empty cursor.
func (c Cursor) IsZero() bool {
	return c.Type == "" && c.Value == ""
}

// String serializes the cursor. The zero cursor serializes to "".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return string(c.Type) + ":" + c.Value
}

func (c Cursor) validate() error {
	switch c.Type {
	case CursorPR:
		n, err := strconv.Atoi(c.Value)
		if err != nil {
			return fmt.Errorf("invalid pr cursor value %q: %w", c.Value, err)
		}
		if n < 0 {
			return fmt.Errorf("invalid pr cursor value %q: negative", c.Value)
		}
	case CursorTimestamp:
		if _, err := time.Parse(time.RFC3339Nano, c.Value); err != nil {
			return fmt.Errorf("invalid timestamp cursor value %q: %w", c.Value, err)
		}
	case CursorCommit:
		if c.Value == "" {
			return errors.New("empty commit cursor value")
		}
	default:
		return fmt.Errorf("unknown cursor type %q", c.Type)
	}
	return nil
}

func (c Cursor) number() int {
	n, _ := strconv.Atoi(c.Value)
	return n
}

func (c Cursor) instant() time.Time {
	t, _ := time.Parse(time.RFC3339Nano, c.Value)
	return t
}

// CompareCursors returns -1, 0 or +1 as a is before, equal to, or after b.
// The zero cursor sorts first. Cursors of different types are not comparable.
func CompareCursors(a, b Cursor) (int, error) {
	switch {
	case a.IsZero() && b.IsZero():
		return 0, nil
	case a.IsZero():
		return -1, nil
	case b.IsZero():
		return 1, nil
	}
	if a.Type != b.Type {
		return 0, fmt.Errorf("compare %s with %s: %w", a.Type, b.Type, ErrCursorTypeMismatch)
	}

	switch a.Type {
	case CursorPR:
		return compareInts(a.number(), b.number()), nil
	case CursorTimestamp:
		return a.instant().Compare(b.instant()), nil
	default:
		return strings.Compare(a.Value, b.Value), nil
	}
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Admits reports whether p lies strictly after the cursor. The zero cursor
// admits everything. Commit cursors carry no order information for positions,
// so they admit everything too.
func (c Cursor) Admits(p Position) bool {
	switch c.Type {
	case CursorPR:
		return p.Number > c.number()
	case CursorTimestamp:
		return p.At.After(c.instant())
	default:
		return true
	}
}

// LatestFrom derives the furthest-advanced cursor from a fetched batch: the
// highest PR number when every position is a PR, otherwise the most recent
// timestamp. An empty batch yields the zero cursor.
func LatestFrom(positions []Position) Cursor {
	if len(positions) == 0 {
		return Cursor{}
	}

	allPRs := true
	for _, p := range positions {
		if p.Type != CursorPR {
			allPRs = false
			break
		}
	}

	if allPRs {
		highest := positions[0].Number
		for _, p := range positions[1:] {
			if p.Number > highest {
				highest = p.Number
			}
		}
		return PRCursor(highest)
	}

	var latest time.Time
	for _, p := range positions {
		if p.At.After(latest) {
			latest = p.At
		}
	}
	return TimestampCursor(latest)
}
