package taxonomy

import "strings"

// Kind classifies a failure by its origin subsystem.
type Kind int

const (
	KindNetwork Kind = iota
	KindParsing
	KindFormatting
	KindClipboard
	KindStorage
	KindPermission
	KindDOM
	KindValidation
	KindTimeout
	KindMemory
	KindScreenshot
	KindUnknown
)

var kindNames = map[Kind]string{
	KindNetwork:    "network",
	KindParsing:    "parsing",
	KindFormatting: "formatting",
	KindClipboard:  "clipboard",
	KindStorage:    "storage",
	KindPermission: "permission",
	KindDOM:        "dom",
	KindValidation: "validation",
	KindTimeout:    "timeout",
	KindMemory:     "memory",
	KindScreenshot: "screenshot",
	KindUnknown:    "unknown",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON emits the kind name so JSON surfaces stay readable.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON accepts a kind name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	*k = ParseKind(strings.Trim(string(data), `"`))
	return nil
}

// Kinds returns every defined kind, useful for iterating default configs.
func Kinds() []Kind {
	return []Kind{
		KindNetwork, KindParsing, KindFormatting, KindClipboard,
		KindStorage, KindPermission, KindDOM, KindValidation,
		KindTimeout, KindMemory, KindScreenshot, KindUnknown,
	}
}

// ParseKind maps a string name back to its Kind, defaulting to KindUnknown.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}
