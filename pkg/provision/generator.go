package provision

import (
	"math/rand/v2"
	"strings"
)

// NewAccountIdentifier returns a candidate account identifier of the form
// diam-xxxx-xxxx-xxxx, each x drawn from the lowercase base-36 alphabet.
// Candidates are random, not unique; the allocator checks them against the
// store before use.
func NewAccountIdentifier() string {
	var builder strings.Builder
	builder.Grow(len(identifierPrefix) + identifierSegments*(identifierSegmentLen+1))
	builder.WriteString(identifierPrefix)
	for segment := 0; segment < identifierSegments; segment++ {
		builder.WriteByte('-')
		for position := 0; position < identifierSegmentLen; position++ {
			builder.WriteByte(identifierAlphabet[rand.IntN(len(identifierAlphabet))])
		}
	}
	return builder.String()
}
