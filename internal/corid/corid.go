// Package corid implements the Cor-ID codec: the pseudonymous patient
// identifier that encodes a mint date, medical facility, and per-facility
// patient sequence, suffixed with birth year and sex.
//
// Format: "<base36(DDDDDFFFFFSSSSS)>-<year><sex>" where the three 5-digit
// decimal groups are day offset, facility code, and patient sequence.
package corid

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/corpass/corpass/internal/common"
)

// Epoch is the anchor date the day offset counts from.
var Epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	groupDigits   = 5
	numeralDigits = 3 * groupDigits
	groupMin      = 1
	groupMax      = 99999
	yearMin       = 1900
	yearMax       = 2100
)

// CorID is the decoded form of a Cor-ID string.
type CorID struct {
	DayOffset       int
	FacilityCode    int
	PatientSequence int
	BirthYear       int
	Sex             byte // 'M' or 'F'
}

// DayOffsetFor returns the day offset for a mint time, counted from Epoch.
func DayOffsetFor(t time.Time) int {
	return int(t.UTC().Sub(Epoch).Hours() / 24)
}

// Encode serializes the five components into a Cor-ID string.
// Each of dayOffset, facilityCode, and patientSequence must be in 1..99999,
// birthYear in 1900..2100, sex 'M' or 'F'; anything else is common.ErrFormat.
func Encode(dayOffset, facilityCode, patientSequence, birthYear int, sex byte) (string, error) {
	for _, v := range []int{dayOffset, facilityCode, patientSequence} {
		if v < groupMin || v > groupMax {
			return "", fmt.Errorf("%w: component %d out of range", common.ErrFormat, v)
		}
	}
	if birthYear < yearMin || birthYear > yearMax {
		return "", fmt.Errorf("%w: birth year %d out of range", common.ErrFormat, birthYear)
	}
	if sex != 'M' && sex != 'F' {
		return "", fmt.Errorf("%w: sex must be M or F", common.ErrFormat)
	}

	// 15-digit decimal numeral: day‖facility‖sequence, 5 digits each.
	numeral := fmt.Sprintf("%05d%05d%05d", dayOffset, facilityCode, patientSequence)
	n, err := strconv.ParseUint(numeral, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrFormat, err)
	}

	prefix := strings.ToUpper(strconv.FormatUint(n, 36))
	return fmt.Sprintf("%s-%d%c", prefix, birthYear, sex), nil
}

// Decode parses a Cor-ID string back into its components.
//
// The base36 prefix is converted back to decimal and re-padded to 15 digits
// before the positional 5/5/5 split; the numeral itself cannot represent
// leading zeros, so re-padding restores them (see DESIGN.md on the width
// assumption). A missing '-' separator or any malformed part yields
// common.ErrFormat.
func Decode(s string) (*CorID, error) {
	prefix, suffix, found := strings.Cut(s, "-")
	if !found {
		return nil, fmt.Errorf("%w: missing separator", common.ErrFormat)
	}
	if prefix == "" || len(suffix) < 2 {
		return nil, fmt.Errorf("%w: truncated identifier", common.ErrFormat)
	}

	n, err := strconv.ParseUint(prefix, 36, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base36 prefix: %v", common.ErrFormat, err)
	}
	numeral := fmt.Sprintf("%0*d", numeralDigits, n)
	if len(numeral) > numeralDigits {
		return nil, fmt.Errorf("%w: numeral overflow", common.ErrFormat)
	}

	sex := suffix[len(suffix)-1]
	if sex != 'M' && sex != 'F' {
		return nil, fmt.Errorf("%w: sex must be M or F", common.ErrFormat)
	}
	birthYear, err := strconv.Atoi(suffix[:len(suffix)-1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad birth year: %v", common.ErrFormat, err)
	}
	if birthYear < yearMin || birthYear > yearMax {
		return nil, fmt.Errorf("%w: birth year %d out of range", common.ErrFormat, birthYear)
	}

	id := &CorID{
		DayOffset:       mustAtoi(numeral[0:5]),
		FacilityCode:    mustAtoi(numeral[5:10]),
		PatientSequence: mustAtoi(numeral[10:15]),
		BirthYear:       birthYear,
		Sex:             sex,
	}
	for _, v := range []int{id.DayOffset, id.FacilityCode, id.PatientSequence} {
		if v < groupMin || v > groupMax {
			return nil, fmt.Errorf("%w: component %d out of range", common.ErrFormat, v)
		}
	}
	return id, nil
}

// mustAtoi parses a digit group already validated to be numeric.
func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
