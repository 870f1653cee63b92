// Package transform normalizes remote object keys into relative paths under
// the mirror root. The same pipeline is applied to remote keys after listing
// and to local entry names before sorting, so both streams compare under
// identical rules.
package transform

import (
	"runtime"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PlatformProfile captures the host traits the transformers branch on.
// Computed once at start-up and passed in, so tests can exercise both
// flavors on any host.
type PlatformProfile struct {
	// Separator is the path separator the local file system uses.
	Separator byte

	// Windows selects backslash-oriented normalization.
	Windows bool
}

// HostProfile returns the profile of the running host.
func HostProfile() PlatformProfile {
	if runtime.GOOS == "windows" {
		return PlatformProfile{Separator: '\\', Windows: true}
	}
	return PlatformProfile{Separator: '/', Windows: false}
}

// Transformer is a pure string → string key transform. Every transformer
// must be idempotent: applying it twice equals applying it once.
type Transformer func(key string) string

// Pipeline applies an ordered sequence of transformers left-to-right.
type Pipeline struct {
	transformers []Transformer
}

// NewPipeline builds a pipeline from the given transformers in order.
func NewPipeline(transformers ...Transformer) *Pipeline {
	return &Pipeline{transformers: transformers}
}

// Apply runs the key through every transformer in order.
func (p *Pipeline) Apply(key string) string {
	for _, t := range p.transformers {
		key = t(key)
	}
	return key
}

// Len returns the number of transformers in the pipeline.
func (p *Pipeline) Len() int { return len(p.transformers) }

// StripRootPrefix repeatedly removes a leading separator ('/' or '\') or a
// Windows drive prefix ("C:/", "c:\") until neither remains. Keys written
// across platforms must not escape the mirror root through an absolute
// prefix.
func StripRootPrefix() Transformer {
	return func(key string) string {
		for {
			switch {
			case strings.HasPrefix(key, "/") || strings.HasPrefix(key, "\\"):
				key = key[1:]
			case hasDrivePrefix(key):
				key = key[3:]
			default:
				return key
			}
		}
	}
}

func hasDrivePrefix(s string) bool {
	if len(s) < 3 {
		return false
	}
	c := s[0]
	letter := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
	return letter && s[1] == ':' && (s[2] == '/' || s[2] == '\\')
}

// NormalizeSeparators rewrites directory boundaries to the host separator:
// '/' becomes '\' on Windows profiles, '\' becomes '/' elsewhere.
func NormalizeSeparators(profile PlatformProfile) Transformer {
	if profile.Windows {
		return func(key string) string {
			return strings.ReplaceAll(key, "/", "\\")
		}
	}
	return func(key string) string {
		return strings.ReplaceAll(key, "\\", "/")
	}
}

// UnicodeNormalize applies the given Unicode normalization form. The form
// must match between remote keys and local names or equal paths stop
// comparing equal. ParseForm validates the configured name.
func UnicodeNormalize(form norm.Form) Transformer {
	return func(key string) string {
		return form.String(key)
	}
}

// ParseForm maps a configuration value to a normalization form. The empty
// string reports ok=false, meaning no normalization pass is configured.
func ParseForm(name string) (norm.Form, bool) {
	switch strings.ToUpper(name) {
	case "NFC":
		return norm.NFC, true
	case "NFD":
		return norm.NFD, true
	case "NFKC":
		return norm.NFKC, true
	case "NFKD":
		return norm.NFKD, true
	default:
		return norm.NFC, false
	}
}

// Dropped reports whether a transformed key must be discarded: empty keys
// and keys reduced to a bare separator cannot be mirrored.
func Dropped(transformed string) bool {
	return transformed == "" || transformed == "/" || transformed == "\\"
}
