package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrGameVersionFormat is returned when a game version string is not in the
// YYYY.MM.DD.MAJOR.MINOR format.
var ErrGameVersionFormat = errors.New("game version must be formatted as YYYY.MM.DD.MAJOR.MINOR")

var gameVersionWidths = [5]int{4, 2, 2, 4, 4}

// GameVersion is a five field game client version such as
// 2024.01.01.0000.0000.
type GameVersion struct {
	Year  string
	Month string
	Day   string
	Major string
	Minor string
}

// DefaultMinimumGameVersion accepts every well formed client version in use.
var DefaultMinimumGameVersion = GameVersion{Year: "2023", Month: "01", Day: "01", Major: "0000", Minor: "0000"}

// ParseGameVersion parses s, requiring exactly five dot separated numeric
// fields of widths 4, 2, 2, 4 and 4.
func ParseGameVersion(s string) (GameVersion, error) {
	fields := strings.Split(s, ".")
	if len(fields) != len(gameVersionWidths) {
		return GameVersion{}, ErrGameVersionFormat
	}
	for i, f := range fields {
		if len(f) != gameVersionWidths[i] || !isDigits(f) {
			return GameVersion{}, ErrGameVersionFormat
		}
	}
	return GameVersion{
		Year:  fields[0],
		Month: fields[1],
		Day:   fields[2],
		Major: fields[3],
		Minor: fields[4],
	}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Number returns all fields concatenated as a single fixed width integer.
func (v GameVersion) Number() uint64 {
	n, err := strconv.ParseUint(v.Year+v.Month+v.Day+v.Major+v.Minor, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Less reports whether v is older than o.
func (v GameVersion) Less(o GameVersion) bool {
	return v.Number() < o.Number()
}

// IsZero reports whether v is unset.
func (v GameVersion) IsZero() bool {
	return v == GameVersion{}
}

func (v GameVersion) String() string {
	return strings.Join([]string{v.Year, v.Month, v.Day, v.Major, v.Minor}, ".")
}

// MarshalText implements encoding.TextMarshaler.
func (v GameVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *GameVersion) UnmarshalText(text []byte) error {
	parsed, err := ParseGameVersion(string(text))
	if err != nil {
		return errors.Wrapf(err, "parse game version %q", text)
	}
	*v = parsed
	return nil
}
