package staticfileserver

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrRangeNotSatisfiable means the range does not fit the file; answer 416.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrMalformedRange means the Range header has no usable byte offsets; answer 400.
	ErrMalformedRange = errors.New("malformed range")
)

// ByteRange is an inclusive byte interval with 0 <= Start <= End <= size-1.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (b ByteRange) Length() int64 { return b.End - b.Start + 1 }

// ContentRange formats the Content-Range value for a file of total bytes.
func (b ByteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", b.Start, b.End, total)
}

// Only the first range of a multi-range header is honoured.
var rangePattern = regexp.MustCompile(`^bytes=(\d*)-(\d*)`)

// ParseRange resolves a Range header against a file of total bytes.
// "bytes=A-B" is taken literally, "bytes=A-" runs to the last byte and
// "bytes=-N" selects the last N bytes. Ranges that leave [0, total-1] are
// rejected with ErrRangeNotSatisfiable, never clamped.
func ParseRange(text string, total int64) (ByteRange, error) {
	m := rangePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil || (m[1] == "" && m[2] == "") {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, text)
	}

	var start, end int64
	switch {
	case m[1] == "":
		n, err := parseOffset(m[2])
		if err != nil || n > total {
			return ByteRange{}, fmt.Errorf("%w: suffix %s of %d bytes", ErrRangeNotSatisfiable, m[2], total)
		}
		start, end = total-n, total-1
	case m[2] == "":
		s, err := parseOffset(m[1])
		if err != nil {
			return ByteRange{}, fmt.Errorf("%w: start %s", ErrRangeNotSatisfiable, m[1])
		}
		start, end = s, total-1
	default:
		s, errS := parseOffset(m[1])
		e, errE := parseOffset(m[2])
		if errS != nil || errE != nil {
			return ByteRange{}, fmt.Errorf("%w: %s-%s", ErrRangeNotSatisfiable, m[1], m[2])
		}
		start, end = s, e
	}

	if start < 0 || start > end || end > total-1 {
		return ByteRange{}, fmt.Errorf("%w: %d-%d of %d bytes", ErrRangeNotSatisfiable, start, end, total)
	}
	return ByteRange{Start: start, End: end}, nil
}

// parseOffset fails only on overflow; the pattern guarantees digits.
func parseOffset(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
