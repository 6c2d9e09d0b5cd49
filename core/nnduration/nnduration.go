// Package nnduration provides JSON-friendly non-negative duration types.
//
// A value may be written in JSON as an integer in the type's unit, or as a string
// that is either an integer or a Go duration such as "10ms".
package nnduration

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

func parse(input string, unit time.Duration) (value uint64, e error) {
	if d, e := time.ParseDuration(input); e == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration %s", input)
		}
		return uint64(d / unit), nil
	}
	return strconv.ParseUint(input, 10, 64)
}

func unmarshal(p []byte, unit time.Duration) (uint64, error) {
	return parse(strings.Trim(string(p), `"`), unit)
}

// Milliseconds is a duration in milliseconds.
type Milliseconds uint64

// UnmarshalJSON implements json.Unmarshaler interface.
func (d *Milliseconds) UnmarshalJSON(p []byte) (e error) {
	v, e := unmarshal(p, time.Millisecond)
	*d = Milliseconds(v)
	return e
}

// MarshalJSON implements json.Marshaler interface.
func (d Milliseconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint64(d))
}

// Duration converts to time.Duration.
func (d Milliseconds) Duration() time.Duration {
	return time.Duration(d) * time.Millisecond
}

// DurationOr converts to time.Duration, or returns dflt (in milliseconds) if zero.
func (d Milliseconds) DurationOr(dflt Milliseconds) time.Duration {
	if d == 0 {
		return dflt.Duration()
	}
	return d.Duration()
}

// Microseconds is a duration in microseconds.
type Microseconds uint64

// UnmarshalJSON implements json.Unmarshaler interface.
func (d *Microseconds) UnmarshalJSON(p []byte) (e error) {
	v, e := unmarshal(p, time.Microsecond)
	*d = Microseconds(v)
	return e
}

// MarshalJSON implements json.Marshaler interface.
func (d Microseconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint64(d))
}

// Duration converts to time.Duration.
func (d Microseconds) Duration() time.Duration {
	return time.Duration(d) * time.Microsecond
}

// DurationOr converts to time.Duration, or returns dflt (in microseconds) if zero.
func (d Microseconds) DurationOr(dflt Microseconds) time.Duration {
	if d == 0 {
		return dflt.Duration()
	}
	return d.Duration()
}
