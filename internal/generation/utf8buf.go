package generation

import "unicode/utf8"

// utf8Buffer accumulates raw token bytes and releases only complete UTF-8
// text. An incomplete trailing sequence is held until later bytes complete
// it; bytes that can never form a rune are replaced with U+FFFD.
type utf8Buffer struct {
	pending []byte
}

// Write appends b and returns the valid text now available.
func (u *utf8Buffer) Write(b []byte) string {
	u.pending = append(u.pending, b...)
	buf := u.pending
	out := make([]byte, 0, len(buf))
	i := 0
	for i < len(buf) {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size <= 1 {
			if !utf8.FullRune(buf[i:]) {
				break
			}
			out = append(out, "\uFFFD"...)
			i++
			continue
		}
		out = append(out, buf[i:i+size]...)
		i += size
	}
	u.pending = append(u.pending[:0], buf[i:]...)
	return string(out)
}

// Flush returns any held bytes as text, replacing an incomplete sequence
// with U+FFFD.
func (u *utf8Buffer) Flush() string {
	if len(u.pending) == 0 {
		return ""
	}
	u.pending = u.pending[:0]
	return "\uFFFD"
}

// Pending reports the number of held bytes.
func (u *utf8Buffer) Pending() int { return len(u.pending) }
