package beacon

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Well-known manufacturer-data layouts in the Android beacon library notation.
// Offsets are relative to the manufacturer-specific AD payload, company id included.
const (
	IBeaconLayout   = "m:2-3=0215,i:4-19,i:20-21,i:22-23,p:24-24"
	AltBeaconLayout = "m:2-3=beac,i:4-19,i:20-21,i:22-23,p:24-24,d:25-25"
)

type fieldSpan struct {
	start, end   int
	littleEndian bool
}

func (f fieldSpan) len() int { return f.end - f.start + 1 }

// Layout decodes beacon identifiers out of manufacturer data
type Layout struct {
	raw      string
	matchAt  fieldSpan
	match    []byte
	ids      []fieldSpan
	power    *fieldSpan
	minBytes int
}

// ParseLayout parses a layout expression such as IBeaconLayout
func ParseLayout(expr string) (*Layout, error) {
	l := &Layout{raw: expr}
	for _, term := range strings.Split(expr, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		kind, rest, ok := strings.Cut(term, ":")
		if !ok {
			return nil, fmt.Errorf("layout %q: malformed term %q", expr, term)
		}

		spanExpr, value, hasValue := strings.Cut(rest, "=")
		span, err := parseSpan(spanExpr)
		if err != nil {
			return nil, fmt.Errorf("layout %q: term %q: %w", expr, term, err)
		}

		switch kind {
		case "m":
			if !hasValue {
				return nil, fmt.Errorf("layout %q: matcher %q needs a value", expr, term)
			}
			b, err := hex.DecodeString(value)
			if err != nil || len(b) != span.len() {
				return nil, fmt.Errorf("layout %q: matcher value %q does not fit %d bytes", expr, value, span.len())
			}
			l.matchAt, l.match = span, b
		case "i":
			l.ids = append(l.ids, span)
		case "p":
			s := span
			l.power = &s
		case "d":
			// data fields are not surfaced
		default:
			return nil, fmt.Errorf("layout %q: unsupported term type %q", expr, kind)
		}
		if span.end+1 > l.minBytes {
			l.minBytes = span.end + 1
		}
	}

	if l.match == nil {
		return nil, fmt.Errorf("layout %q: missing matcher term", expr)
	}
	if len(l.ids) == 0 {
		return nil, fmt.Errorf("layout %q: missing identifier terms", expr)
	}
	return l, nil
}

// MustParseLayout is ParseLayout for package-level constants
func MustParseLayout(expr string) *Layout {
	l, err := ParseLayout(expr)
	if err != nil {
		panic(err)
	}
	return l
}

func parseSpan(expr string) (fieldSpan, error) {
	var span fieldSpan
	if strings.HasSuffix(expr, "l") {
		span.littleEndian = true
		expr = strings.TrimSuffix(expr, "l")
	}
	from, to, ok := strings.Cut(expr, "-")
	if !ok {
		return span, fmt.Errorf("span %q must be start-end", expr)
	}
	start, err := strconv.Atoi(from)
	if err != nil {
		return span, fmt.Errorf("span start %q: %w", from, err)
	}
	end, err := strconv.Atoi(to)
	if err != nil {
		return span, fmt.Errorf("span end %q: %w", to, err)
	}
	if start < 0 || end < start {
		return span, fmt.Errorf("span %d-%d is empty", start, end)
	}
	span.start, span.end = start, end
	return span, nil
}

// String returns the layout expression
func (l *Layout) String() string { return l.raw }

// Decode extracts identifiers and calibrated power from manufacturer data.
// ok is false when the payload does not match the layout.
func (l *Layout) Decode(data []byte) (ids []string, txPower int, ok bool) {
	if len(data) < l.minBytes {
		return nil, 0, false
	}
	if !bytes.Equal(data[l.matchAt.start:l.matchAt.end+1], l.match) {
		return nil, 0, false
	}

	ids = make([]string, len(l.ids))
	for i, span := range l.ids {
		ids[i] = formatIdentifier(data[span.start:span.end+1], span.littleEndian)
	}
	if l.power != nil {
		txPower = int(int8(data[l.power.start]))
	}
	return ids, txPower, true
}

func formatIdentifier(raw []byte, littleEndian bool) string {
	b := make([]byte, len(raw))
	copy(b, raw)
	if littleEndian {
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
	}

	switch len(b) {
	case 16:
		u, _ := uuid.FromBytes(b)
		return u.String()
	case 1:
		return strconv.Itoa(int(b[0]))
	case 2:
		return strconv.Itoa(int(binary.BigEndian.Uint16(b)))
	default:
		return "0x" + hex.EncodeToString(b)
	}
}
