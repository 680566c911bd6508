package framecache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Timecode is an SMPTE style timecode
type Timecode struct {
	Hours     int  `json:"hours"`
	Minutes   int  `json:"minutes"`
	Seconds   int  `json:"seconds"`
	Frames    int  `json:"frames"`
	DropFrame bool `json:"drop_frame"`
}

// String formats as HH:MM:SS:FF, or HH:MM:SS;FF for drop frame
func (t Timecode) String() string {
	sep := ":"
	if t.DropFrame {
		sep = ";"
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", t.Hours, t.Minutes, t.Seconds, sep, t.Frames)
}

// FrameRate is a rational frames-per-second value
type FrameRate struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// String formats as numerator/denominator
func (r FrameRate) String() string {
	return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
}

// FPS returns the rate as a decimal
func (r FrameRate) FPS() float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}

// TimecodeValue is what the timecode cell stores
type TimecodeValue struct {
	Timecode  Timecode
	FrameRate FrameRate
}

// Parse errors
var (
	ErrInvalidTimecode  = errors.New("invalid timecode")
	ErrInvalidFrameRate = errors.New("invalid frame rate")
)

// ParseTimecode parses HH:MM:SS:FF or HH:MM:SS;FF
func ParseTimecode(s string) (Timecode, error) {
	var tc Timecode
	if len(s) < 11 {
		return tc, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
	}
	last := strings.LastIndexAny(s, ":;")
	if last < 0 {
		return tc, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
	}
	tc.DropFrame = s[last] == ';'

	parts := strings.Split(s[:last], ":")
	if len(parts) != 3 {
		return tc, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
	}
	fields := []*int{&tc.Hours, &tc.Minutes, &tc.Seconds}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Timecode{}, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
		}
		*fields[i] = n
	}
	frames, err := strconv.Atoi(s[last+1:])
	if err != nil || frames < 0 {
		return Timecode{}, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
	}
	tc.Frames = frames
	return tc, nil
}

// ParseFrameRate parses numerator/denominator
func ParseFrameRate(s string) (FrameRate, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return FrameRate{}, fmt.Errorf("%w: %q", ErrInvalidFrameRate, s)
	}
	n, err1 := strconv.Atoi(num)
	d, err2 := strconv.Atoi(den)
	if err1 != nil || err2 != nil || n <= 0 || d <= 0 {
		return FrameRate{}, fmt.Errorf("%w: %q", ErrInvalidFrameRate, s)
	}
	return FrameRate{Numerator: n, Denominator: d}, nil
}
