package main

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/optic-orders/internal/domain/coupon"
)

const (
	minCodeLen = 4
	maxCodeLen = 32
)

var (
	errSkipLine = errors.New("skip line")
	hundred     = decimal.NewFromInt(100)
)

type validity struct {
	start, end time.Time
}

// lineCode returns the normalized code of a campaign line without
// validating the rest of it.
func lineCode(line string) (string, bool) {
	code, _, _ := strings.Cut(line, ",")
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < minCodeLen || len(code) > maxCodeLen || code == "CODE" || strings.HasPrefix(code, "#") {
		return "", false
	}
	return code, true
}

// parseLine turns a "code,kind,value" line into an active coupon. Blank
// lines, comments and the header row return errSkipLine.
func parseLine(line string, window validity) (coupon.Coupon, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return coupon.Coupon{}, errSkipLine
	}
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return coupon.Coupon{}, errors.Errorf("want 3 fields, got %d", len(fields))
	}
	if strings.EqualFold(strings.TrimSpace(fields[0]), "code") {
		return coupon.Coupon{}, errSkipLine
	}

	code, ok := lineCode(fields[0])
	if !ok {
		return coupon.Coupon{}, errors.Errorf("invalid code %q", fields[0])
	}

	kind := coupon.Kind(strings.ToUpper(strings.TrimSpace(fields[1])))
	if kind != coupon.KindPercentage && kind != coupon.KindFixed {
		return coupon.Coupon{}, errors.Errorf("code %s: unknown kind %q", code, fields[1])
	}

	value, err := decimal.NewFromString(strings.TrimSpace(fields[2]))
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "code %s: parse value", code)
	}
	if !value.IsPositive() {
		return coupon.Coupon{}, errors.Errorf("code %s: value must be positive", code)
	}
	if kind == coupon.KindPercentage && value.GreaterThan(hundred) {
		return coupon.Coupon{}, errors.Errorf("code %s: percentage above 100", code)
	}

	return coupon.Coupon{
		Code:     code,
		Kind:     kind,
		Value:    value,
		StartsAt: window.start,
		EndsAt:   window.end,
		Active:   true,
	}, nil
}
