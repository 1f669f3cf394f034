package order

import (
	"crypto/rand"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// DefaultNumberPrefix is used when no prefix is configured.
const DefaultNumberPrefix = "EW"

const suffixLen = 4

var suffixSpace = big.NewInt(36 * 36 * 36 * 36)

// NumberGenerator issues human-facing order numbers:
// prefix + base36(unix millis) + 4 random base36 chars, upper-cased.
//
// Numbers are not guaranteed unique; the store enforces uniqueness and the
// service regenerates on ErrNumberTaken.
type NumberGenerator struct {
	prefix string
	now    func() time.Time
	rand   io.Reader
}

// NewNumberGenerator validates prefix (two ASCII letters) and returns a
// generator.
func NewNumberGenerator(prefix string) (*NumberGenerator, error) {
	prefix = strings.ToUpper(prefix)
	if len(prefix) != 2 {
		return nil, errors.Errorf("order number prefix must be 2 letters, got %q", prefix)
	}
	for i := range len(prefix) {
		if prefix[i] < 'A' || prefix[i] > 'Z' {
			return nil, errors.Errorf("order number prefix must be 2 letters, got %q", prefix)
		}
	}
	return &NumberGenerator{prefix: prefix, now: time.Now, rand: rand.Reader}, nil
}

// Next returns a new order number.
func (g *NumberGenerator) Next() (string, error) {
	n, err := rand.Int(g.rand, suffixSpace)
	if err != nil {
		return "", errors.Wrap(err, "random suffix")
	}
	suffix := strconv.FormatInt(n.Int64(), 36)
	if pad := suffixLen - len(suffix); pad > 0 {
		suffix = strings.Repeat("0", pad) + suffix
	}
	ts := strconv.FormatInt(g.now().UnixMilli(), 36)
	return strings.ToUpper(g.prefix + ts + suffix), nil
}
