package assessment

import (
	"errors"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "https://example.com"},
		{"www.example.com", "https://example.com"},
		{"http://example.com", "http://example.com"},
		{"https://WWW.Example.COM/path?q=1", "https://example.com/path?q=1"},
		{"example.com:8080/x", "https://example.com:8080/x"},
		{"  example.com  ", "https://example.com"},
	}
	for _, c := range cases {
		got, err := NormalizeURL(c.in)
		if err != nil {
			t.Errorf("NormalizeURL(%q) error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeURLRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "localhost", "ftp://example.com", "https://", "www."} {
		if _, err := NormalizeURL(in); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("NormalizeURL(%q) = %v, want ErrInvalidURL", in, err)
		}
	}
}
