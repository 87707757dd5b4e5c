package cache

import "fmt"

// Mode selects where the cache keeps entries.
type Mode int

const (
	ModeDisable Mode = iota
	ModeRuntime
	ModeDisk
	// ModeForceDisk is ModeDisk, and also makes the compiler ignore caches
	// supplied with a build.
	ModeForceDisk
)

var modeNames = map[Mode]string{
	ModeDisable:   "disable",
	ModeRuntime:   "runtime",
	ModeDisk:      "disk",
	ModeForceDisk: "force_disk",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Persistent reports whether the mode uses a Store.
func (m Mode) Persistent() bool {
	return m == ModeDisk || m == ModeForceDisk
}

// ParseMode parses a mode name as written in configuration.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeDisable, fmt.Errorf("unknown cache mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
