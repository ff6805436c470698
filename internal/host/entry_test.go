package host_test

import (
	"errors"
	"path/filepath"
	"testing"

	"caschost-go/internal/host"
)

func TestParseHash(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "valid", in: "0123456789abcdef0123456789abcdef"},
		{name: "uppercase", in: "0123456789ABCDEF0123456789ABCDEF"},
		{name: "too short", in: "0123", wantErr: true},
		{name: "not hex", in: "zz23456789abcdef0123456789abcdef", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := host.ParseHash(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHash() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && h.String() != "0123456789abcdef0123456789abcdef" {
				t.Errorf("String() = %q", h.String())
			}
		})
	}
}

func TestCDNPath(t *testing.T) {
	h, _ := host.ParseHash("abcdef0123456789abcdef0123456789")
	want := filepath.Join("data", "ab", "cd", "abcdef0123456789abcdef0123456789")
	if got := host.CDNPath(h); got != want {
		t.Errorf("CDNPath() = %q, want %q", got, want)
	}
}

func TestCacheEntry_Equal(t *testing.T) {
	a := host.CacheEntry{Path: "x.m2", FileDataID: 5, NameHash: 9}
	b := a
	if !a.Equal(b) {
		t.Error("identical entries should be equal")
	}
	b.EncodedKey[0] = 1
	if a.Equal(b) {
		t.Error("entries with different encoded keys should differ")
	}
}

func TestFatalError(t *testing.T) {
	inner := errors.New("disk full")
	var err error = &host.FatalError{Op: "flushing cache batch", Err: inner}

	if !host.IsFatal(err) {
		t.Error("IsFatal() = false")
	}
	if !errors.Is(err, inner) {
		t.Error("FatalError should unwrap to its cause")
	}
	if host.IsFatal(inner) {
		t.Error("plain error reported as fatal")
	}
	if err.Error() != "flushing cache batch: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
}
