package provision

import (
	"regexp"
	"testing"
)

var identifierPattern = regexp.MustCompile(`^diam-[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{4}$`)

func TestNewAccountIdentifierFormat(test *testing.T) {
	test.Parallel()
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		identifier := NewAccountIdentifier()
		if !identifierPattern.MatchString(identifier) {
			test.Fatalf("identifier %q does not match diam-xxxx-xxxx-xxxx", identifier)
		}
		seen[identifier] = struct{}{}
	}
	// 36^12 combinations; a repeat within 200 draws means the generator is broken.
	if len(seen) != 200 {
		test.Fatalf("expected 200 distinct identifiers, got %d", len(seen))
	}
}
