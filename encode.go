package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// literalKind tags the dynamic shape of a row value. The encoder dispatches
// on this tag rather than probing types ad hoc at each call site.
type literalKind int

const (
	litNull literalKind = iota
	litNumber
	litBoolean
	litTemporal
	litText
	litBinary
)

var (
	dateTimeRe = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[ T](\d{1,2}):(\d{1,2}):(\d{1,2}))?$`)
	timeOnlyRe = regexp.MustCompile(`^(\d{1,2}):(\d{1,2}):(\d{1,2})$`)
)

// classifyValue resolves a runtime value plus its declared MySQL column type
// to a literal tag and a normalized payload.
func classifyValue(val any, col Column) (literalKind, any) {
	if val == nil {
		return litNull, nil
	}
	switch v := val.(type) {
	case bool:
		return litBoolean, v
	case time.Time:
		return litTemporal, v
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return litNumber, v
	case []byte:
		if mapType(col.DataType) == TypeBlob {
			return litBinary, v
		}
		return classifyString(string(v), col)
	case string:
		return classifyString(v, col)
	default:
		// total-function contract: novel types degrade to stringification
		return litText, fmt.Sprintf("%v", v)
	}
}

func classifyString(s string, col Column) (literalKind, any) {
	if isTemporalType(col.DataType) || dateTimeRe.MatchString(s) || timeOnlyRe.MatchString(s) {
		if canon, ok := canonicalTemporal(s); ok {
			return litTemporal, canon
		}
	}
	// the mysql text protocol delivers numeric columns as byte strings; the
	// declared type decides whether the text is really a number
	if tt := mapType(col.DataType); tt == TypeInteger || tt == TypeReal {
		if isNumericLiteral(s) {
			return litNumber, s
		}
	}
	return litText, s
}

// isNumericLiteral reports whether s is plain decimal numeric text, integer
// or float. The text is emitted verbatim when it qualifies, so values beyond
// the int64 range, unsigned bigints included, survive unrounded. Inf/NaN and
// hex forms accepted by strconv are not valid SQL literals and are excluded
// up front.
func isNumericLiteral(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c == '+' || c == '-' || c == '.' || c == 'e' || c == 'E':
		default:
			return false
		}
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// encodeValue maps a runtime value to a literal fragment safe for inclusion
// in a SQLite-dialect statement. It never fails: every input, including
// unknown types, maps to some textual literal.
func encodeValue(val any, col Column) string {
	kind, norm := classifyValue(val, col)
	switch kind {
	case litNull:
		return "NULL"
	case litNumber:
		return encodeNumber(norm)
	case litBoolean:
		if norm.(bool) {
			return "1"
		}
		return "0"
	case litTemporal:
		if t, ok := norm.(time.Time); ok {
			return "'" + t.Format("2006-01-02 15:04:05") + "'"
		}
		return "'" + norm.(string) + "'"
	case litBinary:
		return encodeBlob(norm.([]byte))
	default:
		return quoteEscape(norm.(string))
	}
}

func encodeNumber(v any) string {
	switch n := v.(type) {
	case string: // pre-validated numeric text, emitted verbatim
		return n
	case int:
		return strconv.FormatInt(int64(n), 10)
	case int8:
		return strconv.FormatInt(int64(n), 10)
	case int16:
		return strconv.FormatInt(int64(n), 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case uint:
		return strconv.FormatUint(uint64(n), 10)
	case uint8:
		return strconv.FormatUint(uint64(n), 10)
	case uint16:
		return strconv.FormatUint(uint64(n), 10)
	case uint32:
		return strconv.FormatUint(uint64(n), 10)
	case uint64:
		return strconv.FormatUint(n, 10)
	case float32:
		return strconv.FormatFloat(float64(n), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func encodeBlob(b []byte) string {
	return fmt.Sprintf("X'%X'", b)
}

// canonicalTemporal normalizes a date/time string to zero-padded
// "YYYY-MM-DD HH:MM:SS" (or the matched date-only / time-only form).
func canonicalTemporal(s string) (string, bool) {
	if m := dateTimeRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if m[4] == "" {
			return fmt.Sprintf("%04d-%02d-%02d", y, mo, d), true
		}
		h, _ := strconv.Atoi(m[4])
		mi, _ := strconv.Atoi(m[5])
		sec, _ := strconv.Atoi(m[6])
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", y, mo, d, h, mi, sec), true
	}
	if m := timeOnlyRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		sec, _ := strconv.Atoi(m[3])
		return fmt.Sprintf("%02d:%02d:%02d", h, mi, sec), true
	}
	return "", false
}

// quoteEscape returns a single-quoted literal with escapes applied in one
// pass over the input. Structural escapes (\n, \t, ...) are emitted directly
// and never travel back through the backslash rule, so a value containing
// both a real backslash and a newline round-trips correctly.
func quoteEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\'':
			b.WriteString("''")
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case 0x00:
			b.WriteString(`\0`)
		case 0x0B:
			b.WriteString(`\v`)
		case 0x0C:
			b.WriteString(`\f`)
		default:
			if c <= 0x08 || (c >= 0x0E && c <= 0x1F) || c == 0x7F {
				fmt.Fprintf(&b, `\x%02X`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('\'')
	return b.String()
}
