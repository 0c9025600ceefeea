package generation

import "testing"

func TestUTF8Buffer_HoldsIncompleteSequence(t *testing.T) {
	var b utf8Buffer
	if got := b.Write([]byte{'a', 0xF0, 0x9F}); got != "a" || b.Pending() != 2 {
		t.Fatalf("got %q pending=%d", got, b.Pending())
	}
	if got := b.Write([]byte{0x98, 0x80}); got != "😀" || b.Pending() != 0 {
		t.Fatalf("got %q pending=%d", got, b.Pending())
	}
}

func TestUTF8Buffer_ReplacesInvalidBytes(t *testing.T) {
	var b utf8Buffer
	if got := b.Write([]byte{0xFF, 'x'}); got != "�x" {
		t.Fatalf("got %q", got)
	}
	b.Write([]byte{0xE4, 0xB8})
	if got := b.Flush(); got != "�" || b.Pending() != 0 {
		t.Fatalf("flush=%q", got)
	}
}

func TestStopMatcher(t *testing.T) {
	cases := []struct {
		name    string
		stops   []string
		in      []string
		emitted string
		matched bool
		rest    string
	}{
		{"no stops", nil, []string{"ab", "cd"}, "abcd", false, ""},
		{"split stop", []string{"</s>"}, []string{"hi <", "/s", "> bye"}, "hi ", true, ""},
		{"false prefix released", []string{"END"}, []string{"EN", "x"}, "ENx", false, ""},
		{"held at end", []string{"END"}, []string{"fin E"}, "fin ", false, "E"},
		{"earliest stop wins", []string{"bb", "a"}, []string{"xabb"}, "x", true, ""},
	}
	for _, tc := range cases {
		m := newStopMatcher(tc.stops)
		var out string
		var matched bool
		for _, s := range tc.in {
			e, ok := m.Push(s)
			out += e
			if ok {
				matched = true
				break
			}
		}
		if out != tc.emitted || matched != tc.matched {
			t.Fatalf("%s: emitted=%q matched=%v", tc.name, out, matched)
		}
		if r := m.Flush(); r != tc.rest {
			t.Fatalf("%s: rest=%q", tc.name, r)
		}
	}
}
