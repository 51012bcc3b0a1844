package reminder

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// OffsetKind is a named lead time before a task's target.
type OffsetKind int

const (
	OneHour OffsetKind = iota + 1
	OneDay
	OneWeek
)

type offsetInfo struct {
	dur   time.Duration
	code  string // wire code
	name  string // trigger-name code
	camel string
	short string
	label string
}

var offsetCatalog = map[OffsetKind]offsetInfo{
	OneHour: {dur: time.Hour, code: "one_hour", name: "ONE_HOUR", camel: "OneHour", short: "1h", label: "1 Hour Before"},
	OneDay:  {dur: 24 * time.Hour, code: "one_day", name: "ONE_DAY", camel: "OneDay", short: "1d", label: "1 Day Before"},
	OneWeek: {dur: 7 * 24 * time.Hour, code: "one_week", name: "ONE_WEEK", camel: "OneWeek", short: "1w", label: "1 Week Before"},
}

// AllOffsets returns the catalog in canonical order.
func AllOffsets() []OffsetKind { return []OffsetKind{OneHour, OneDay, OneWeek} }

func (k OffsetKind) Valid() bool {
	_, ok := offsetCatalog[k]
	return ok
}

func (k OffsetKind) Duration() time.Duration { return offsetCatalog[k].dur }

// Code is the lowercase wire form, e.g. "one_day".
func (k OffsetKind) Code() string { return offsetCatalog[k].code }

// Name is the uppercase form used in trigger names, e.g. "ONE_DAY".
func (k OffsetKind) Name() string { return offsetCatalog[k].name }

// Label is the human-readable form, e.g. "1 Day Before".
func (k OffsetKind) Label() string { return offsetCatalog[k].label }

func (k OffsetKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("OffsetKind(%d)", int(k))
	}
	return k.Code()
}

func (k OffsetKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid offset kind %d", int(k))
	}
	return []byte(k.Code()), nil
}

func (k *OffsetKind) UnmarshalText(b []byte) error {
	v, err := ParseOffset(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseOffset accepts the wire code, name code, CamelCase name or shorthand
// ("one_day", "ONE_DAY", "OneDay", "1d"), case-insensitively.
func ParseOffset(s string) (OffsetKind, error) {
	s = strings.TrimSpace(s)
	for _, k := range AllOffsets() {
		info := offsetCatalog[k]
		for _, alias := range []string{info.code, info.name, info.camel, info.short} {
			if strings.EqualFold(s, alias) {
				return k, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown offset %q", s)
}

// ParseOffsets parses every entry; the first failure is returned.
func ParseOffsets(in []string) ([]OffsetKind, error) {
	out := make([]OffsetKind, 0, len(in))
	for _, s := range in {
		k, err := ParseOffset(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// NormalizeOffsets removes duplicates and sorts into canonical order.
// Unknown kinds are kept so validation can report them.
func NormalizeOffsets(in []OffsetKind) []OffsetKind {
	seen := make(map[OffsetKind]struct{}, len(in))
	out := make([]OffsetKind, 0, len(in))
	for _, k := range in {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
