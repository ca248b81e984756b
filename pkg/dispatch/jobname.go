package dispatch

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxNameLength is the longest name of k8s resources (and label values).
const MaxNameLength = 63

const timestampLayout = "20060102150405"

// JobName builds a name of Job from command, timestamp and suffix.
//
// The name is lower-cased and characters other than `[a-z0-9-]` are replaced with `-`.
// When it exceeds MaxNameLength, the command part is shortened so that the timestamp
// and the suffix survive. Leading and trailing `-` are trimmed.
func JobName(command string, now time.Time, suffix string) string {
	tail := sanitize("-" + now.UTC().Format(timestampLayout) + "-" + suffix)
	head := sanitize(command)
	if room := MaxNameLength - len(tail); room < len(head) {
		head = head[:max(room, 0)]
	}

	name := strings.TrimRight(head, "-") + tail
	if MaxNameLength < len(name) {
		name = name[:MaxNameLength]
	}
	return strings.Trim(name, "-")
}

func sanitize(s string) string {
	b := make([]byte, 0, len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9', r == '-':
			b = append(b, byte(r))
		default:
			b = append(b, '-')
		}
	}
	return string(b)
}

// RandomSuffix returns 8 random hex digits.
func RandomSuffix() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
