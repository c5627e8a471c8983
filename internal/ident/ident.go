// Package ident defines the arXiv identifier type used as the key for every
// harvested paper.
package ident

import (
	"fmt"
	"regexp"
)

// seqWidth is the zero-padded width of the sequence number in modern arXiv
// identifiers (e.g. 2411.00222).
const seqWidth = 5

var yearMonthPattern = regexp.MustCompile(`^\d{4}$`)

// ID identifies one paper by its year-month prefix and sequence number.
type ID struct {
	YearMonth string
	Seq       int
}

// New validates the parts and returns an ID.
func New(yearMonth string, seq int) (ID, error) {
	if !yearMonthPattern.MatchString(yearMonth) {
		return ID{}, fmt.Errorf("year-month must be a 4-digit string, got %q", yearMonth)
	}
	if seq <= 0 {
		return ID{}, fmt.Errorf("sequence number must be positive, got %d", seq)
	}
	return ID{YearMonth: yearMonth, Seq: seq}, nil
}

// String returns the form used as the external-API lookup key, e.g. "2411.00222".
func (id ID) String() string {
	return fmt.Sprintf("%s.%0*d", id.YearMonth, seqWidth, id.Seq)
}

// VersionString returns the lookup key for one version, e.g. "2411.00222v2".
func (id ID) VersionString(version int) string {
	return fmt.Sprintf("%sv%d", id.String(), version)
}

// DirName returns the canonical directory name, e.g. "2411-00222".
func (id ID) DirName() string {
	return fmt.Sprintf("%s-%0*d", id.YearMonth, seqWidth, id.Seq)
}

// VersionDir returns the per-version directory name, e.g. "2411-00222v1".
func (id ID) VersionDir(version int) string {
	return fmt.Sprintf("%sv%d", id.DirName(), version)
}

// Range generates the identifiers for one contiguous crawl range, inclusive on
// both ends.
func Range(yearMonth string, first, last int) ([]ID, error) {
	if last < first {
		return nil, fmt.Errorf("last sequence %d precedes first %d", last, first)
	}
	ids := make([]ID, 0, last-first+1)
	for seq := first; seq <= last; seq++ {
		id, err := New(yearMonth, seq)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
