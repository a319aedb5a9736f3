// Package bytefmt renders bytes for diagnostic output.
package bytefmt

import (
	"fmt"
	"io"
	"strings"
)

type Radix int

const (
	Hex Radix = 16
	Bin Radix = 2
)

// Byte renders v zero padded to the full width of radix (2 hex digits or
// 8 binary digits), optionally prefixed with 0X or 0B. Unknown radixes fall
// back to hex.
func Byte(v byte, radix Radix, prefix bool) string {
	var s string
	switch radix {
	case Bin:
		s = fmt.Sprintf("%08b", v)
		if prefix {
			return "0B" + s
		}
	default:
		s = fmt.Sprintf("%02X", v)
		if prefix {
			return "0X" + s
		}
	}
	return s
}

// Bytes renders every byte of b with Byte and joins them with ", ".
func Bytes(b []byte, radix Radix, prefix bool) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = Byte(v, radix, prefix)
	}
	return strings.Join(parts, ", ")
}

// Table writes a register/value listing, one row per value, starting at
// register start.
func Table(w io.Writer, start byte, values []byte) error {
	rows := []string{
		"___________________________________",
		"REGISTER                    VALUE",
		"-----------------------------------",
	}
	for i, v := range values {
		rows = append(rows, fmt.Sprintf(" %s              %s (%s)",
			Byte(start+byte(i), Hex, true), Byte(v, Bin, true), Byte(v, Hex, true)))
	}
	_, err := io.WriteString(w, strings.Join(rows, "\n")+"\n")
	return err
}
