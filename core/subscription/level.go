package subscription

import (
	"database/sql/driver"
	"fmt"

	"github.com/pkg/errors"

	"github.com/didisacademy/academy/core"
)

// Level is a subscription tier. Tiers are independent for content gating: a module lists
// every level allowed to access it.
type Level string

const (
	Free        Level = "free"
	Basic       Level = "basic"
	Premium     Level = "premium"
	Elite       Level = "elite"
	Masterclass Level = "masterclass"
)

var (
	Levels = []Level{Free, Basic, Premium, Elite, Masterclass}

	levelNames = map[Level]string{
		Free:        "Free",
		Basic:       "Basic",
		Premium:     "Premium",
		Elite:       "Elite",
		Masterclass: "Masterclass",
	}

	ErrInvalidLevel = errors.New("invalid subscription level")
)

// ParseLevel cleans s and returns the matching Level.
func ParseLevel(s string) (Level, error) {
	lvl := Level(core.CleanString(s, true /* lower */))
	if !lvl.IsValid() {
		return "", errors.Wrapf(ErrInvalidLevel, "%q", s)
	}
	return lvl, nil
}

func (l Level) IsValid() bool {
	_, ok := levelNames[l]
	return ok
}

func (l Level) Name() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return string(l)
}

func (l Level) String() string { return string(l) }

// Value implements driver.Valuer.
func (l Level) Value() (driver.Value, error) {
	if !l.IsValid() {
		return nil, errors.Wrapf(ErrInvalidLevel, "%q", string(l))
	}
	return string(l), nil
}

// Scan implements sql.Scanner.
func (l *Level) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("subscription.Level: cannot scan %T", src)
	}
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// Contains reports whether lvl is one of levels.
func Contains(levels []Level, lvl Level) bool {
	for _, l := range levels {
		if l == lvl {
			return true
		}
	}
	return false
}

// Strings converts levels for storage in a text[] column.
func Strings(levels []Level) []string {
	strs := make([]string, 0, len(levels))
	for _, l := range levels {
		strs = append(strs, string(l))
	}
	return strs
}

// ParseLevels parses every entry of strs, failing on the first invalid one.
func ParseLevels(strs []string) ([]Level, error) {
	levels := make([]Level, 0, len(strs))
	for _, s := range strs {
		lvl, err := ParseLevel(s)
		if err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}
