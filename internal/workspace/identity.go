package workspace

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// AnonymousPrefix marks try-before-signup identities. The rest of the name
// is a creation stamp the garbage collector reads back.
const AnonymousPrefix = "anonymous-"

// Template directory names that live next to the workspaces and therefore
// cannot be claimed as identities.
var reservedIdentities = map[string]struct{}{
	"anonymous": {},
	"testuser":  {},
}

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func IsAnonymous(identity string) bool {
	return strings.HasPrefix(identity, AnonymousPrefix)
}

// NewAnonymousIdentity mints an anonymous identity whose stamp is a ULID, so
// the creation time is embedded and identities sort by age.
func NewAnonymousIdentity(now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	return AnonymousPrefix + id.String()
}

// AnonymousCreatedAt recovers the creation time embedded in an anonymous
// identity. Both ULID stamps and plain millisecond timestamps are understood.
func AnonymousCreatedAt(identity string) (time.Time, bool) {
	if !IsAnonymous(identity) {
		return time.Time{}, false
	}
	stamp := strings.TrimPrefix(identity, AnonymousPrefix)
	if id, err := ulid.ParseStrict(stamp); err == nil {
		return ulid.Time(id.Time()), true
	}
	if ms, err := strconv.ParseInt(stamp, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// ValidateIdentity checks that identity is usable as a directory name.
func ValidateIdentity(identity string) error {
	if !identityPattern.MatchString(identity) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	if _, ok := reservedIdentities[identity]; ok {
		return fmt.Errorf("%w: %q", ErrReservedIdentity, identity)
	}
	return nil
}

// ValidatePath checks a workspace-relative, slash-delimited file path.
func ValidatePath(rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	for _, part := range strings.Split(rel, "/") {
		switch part {
		case "", ".", "..", HistoryDir:
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
		}
	}
	return rel, nil
}
