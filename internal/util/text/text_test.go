package text

import "testing"

func TestSortify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello, World!", "hello world"},
		{"  Multiple   spaces ", "multiple spaces"},
		{"Café #42", "café 42"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Sortify(c.in); got != c.want {
			t.Errorf("Sortify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSortifiedName(t *testing.T) {
	if got := SortifiedName("title"); got != "titleSortified" {
		t.Errorf("SortifiedName(title) = %q", got)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello, World!", "hello-world"},
		{"Already-slugged", "already-slugged"},
		{"--edge case--", "edge-case"},
	}
	for _, c := range cases {
		if got := Slugify(c.in); got != c.want {
			t.Errorf("Slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
