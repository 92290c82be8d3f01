// Package download implements the in-band file transfer clients use to
// fetch missing assets: request validation, the per-category download
// policy, asset sources and the chunked transfer state.
package download

import (
	"errors"
	"strings"

	"github.com/energizer-project/fragline/internal/protocol"
)

// Denial reasons. All are answered with a failure record; none is fatal to
// the session.
var (
	ErrDisabled       = errors.New("downloads are disabled")
	ErrEmptyName      = errors.New("empty download name")
	ErrNegativeOffset = errors.New("negative download offset")
	ErrBadPath        = errors.New("illegal download path")
	ErrCategoryDenied = errors.New("download category not allowed")
	ErrNotFound       = errors.New("file not found")
	ErrMapInArchive   = errors.New("map is packed in an archive")
	ErrSizeMismatch   = errors.New("file size differs from server")
)

// Category groups download paths for the allow policy.
type Category int

const (
	CategoryOther Category = iota
	CategoryPlayers
	CategoryModels
	CategorySounds
	CategoryMaps
	CategoryTextures
	CategoryPics
)

var categoryNames = map[Category]string{
	CategoryOther:    "other",
	CategoryPlayers:  "players",
	CategoryModels:   "models",
	CategorySounds:   "sounds",
	CategoryMaps:     "maps",
	CategoryTextures: "textures",
	CategoryPics:     "pics",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "unknown"
}

// Classify returns the category of a cleaned download name.
func Classify(name string) Category {
	switch {
	case strings.HasPrefix(name, "players/"):
		return CategoryPlayers
	case strings.HasPrefix(name, "models/"), strings.HasPrefix(name, "sprites/"):
		return CategoryModels
	case strings.HasPrefix(name, "sound/"):
		return CategorySounds
	case strings.HasPrefix(name, "maps/"):
		return CategoryMaps
	case strings.HasPrefix(name, "textures/"), strings.HasPrefix(name, "env/"):
		return CategoryTextures
	case strings.HasPrefix(name, "pics/"):
		return CategoryPics
	default:
		return CategoryOther
	}
}

// Policy controls which downloads are served. Maps is a level: 1 allows
// loose map files, 2 also allows maps found inside archives.
type Policy struct {
	Enabled  bool `json:"enabled"`
	Players  bool `json:"players"`
	Models   bool `json:"models"`
	Sounds   bool `json:"sounds"`
	Maps     int  `json:"maps"`
	Textures bool `json:"textures"`
	Pics     bool `json:"pics"`
	Others   bool `json:"others"`
}

// DefaultPolicy allows everything except maps packed in archives.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:  true,
		Players:  true,
		Models:   true,
		Sounds:   true,
		Maps:     1,
		Textures: true,
		Pics:     true,
		Others:   false,
	}
}

// Allows reports whether the category may be downloaded at all.
func (p Policy) Allows(c Category) bool {
	switch c {
	case CategoryPlayers:
		return p.Players
	case CategoryModels:
		return p.Models
	case CategorySounds:
		return p.Sounds
	case CategoryMaps:
		return p.Maps > 0
	case CategoryTextures:
		return p.Textures
	case CategoryPics:
		return p.Pics
	default:
		return p.Others
	}
}

// AllowsArchivedMaps reports whether maps may be served out of archives.
func (p Policy) AllowsArchivedMaps() bool {
	return p.Maps >= 2
}

// CleanName drops non-printable characters, truncates to MaxQPath-1 bytes
// and lowercases the result.
func CleanName(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw) && b.Len() < protocol.MaxQPath-1; i++ {
		c := raw[i]
		if c >= 32 && c < 127 {
			b.WriteByte(c)
		}
	}
	return strings.ToLower(b.String())
}

func isPathChar(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-'
}

// Validate checks a cleaned name and offset against the path rules and the
// policy, in the order the checks are defined, and returns the name's
// category.
func (p Policy) Validate(name string, offset int) (Category, error) {
	switch {
	case !p.Enabled:
		return 0, ErrDisabled
	case name == "":
		return 0, ErrEmptyName
	case offset < 0:
		return 0, ErrNegativeOffset
	case strings.Contains(name, ".."),
		!isPathChar(name[0]),
		!isPathChar(name[len(name)-1]),
		strings.ContainsRune(name, '\\'),
		strings.ContainsRune(name, ':'),
		!strings.ContainsRune(name, '/'):
		return 0, ErrBadPath
	}

	c := Classify(name)
	if !p.Allows(c) {
		return c, ErrCategoryDenied
	}
	return c, nil
}

// ParseOffset parses the optional offset argument the way atoi does:
// leading whitespace, an optional sign and digits, anything else ends the
// number.
func ParseOffset(s string) int {
	s = strings.TrimLeft(s, " \t")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > 1<<30 {
			break
		}
	}
	if neg {
		return -n
	}
	return n
}
