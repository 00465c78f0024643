package imapsource

import (
	"errors"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", errors.New("dial tcp: i/o timeout"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"closed network", errors.New("use of closed network connection"), true},
		{"auth failure", errors.New("invalid credentials"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsTransient(c.err); got != c.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestSourceError(t *testing.T) {
	base := errors.New("boom")
	err := wrap("select", base)
	var serr *SourceError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SourceError, got %T", err)
	}
	if serr.Op != "select" {
		t.Fatalf("got op %q", serr.Op)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected Unwrap to expose base error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := wrap("noop", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
