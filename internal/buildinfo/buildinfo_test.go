package buildinfo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `Branch!STRING:0|Active!DEC:1|Build Key!HEX:16|Version!STRING:0|Product!STRING:0
eu|0|aaaa|8.0.1.27000|wow
eu|1|bbbb|8.0.1.27101|wow_beta
eu|1|cccc|8.0.1.27165|wow
`

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		product string
		want    string
		wantErr error
	}{
		{name: "matching product", input: sample, product: "wow", want: "8.0.1.27165"},
		{name: "other product", input: sample, product: "wow_beta", want: "8.0.1.27101"},
		{name: "any product", input: sample, product: "", want: "8.0.1.27101"},
		{name: "unknown product", input: sample, product: "wowt", wantErr: ErrNoActiveBuild},
		{
			name:    "no product column",
			input:   "Active!DEC:1|Version!STRING:0\n1|1.13.2\n",
			product: "wow",
			want:    "1.13.2",
		},
		{name: "empty", input: "", wantErr: ErrNoActiveBuild},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.input), tt.product)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("missing version column", func(t *testing.T) {
		if _, err := Parse(strings.NewReader("Active!DEC:1\n1\n"), ""); err == nil {
			t.Error("Parse() expected error")
		}
	})
}

func TestReader_Version(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file is empty version", func(t *testing.T) {
		v, err := Reader{Path: filepath.Join(dir, "none")}.Version()
		if err != nil || v != "" {
			t.Errorf("Version() = %q, %v; want empty, nil", v, err)
		}
	})

	t.Run("reads active version", func(t *testing.T) {
		path := filepath.Join(dir, FileName)
		if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
			t.Fatal(err)
		}
		v, err := Reader{Path: path, Product: "wow"}.Version()
		if err != nil {
			t.Fatalf("Version() error = %v", err)
		}
		if v != "8.0.1.27165" {
			t.Errorf("Version() = %q", v)
		}
	})
}

func TestImport(t *testing.T) {
	t.Run("moves file over target", func(t *testing.T) {
		game := t.TempDir()
		target := filepath.Join(t.TempDir(), "SystemFiles", FileName)
		if err := os.WriteFile(filepath.Join(game, FileName), []byte(sample), 0o644); err != nil {
			t.Fatal(err)
		}

		if !Import(game, target, nil) {
			t.Fatal("Import() = false, want true")
		}
		if _, err := os.Stat(filepath.Join(game, FileName)); !errors.Is(err, os.ErrNotExist) {
			t.Error("source file should have been moved")
		}
		got, err := os.ReadFile(target)
		if err != nil || string(got) != sample {
			t.Errorf("target content = %q, %v", got, err)
		}
	})

	t.Run("missing source is skipped", func(t *testing.T) {
		if Import(t.TempDir(), filepath.Join(t.TempDir(), FileName), nil) {
			t.Error("Import() = true, want false")
		}
	})

	t.Run("no game directory configured", func(t *testing.T) {
		if Import("", filepath.Join(t.TempDir(), FileName), nil) {
			t.Error("Import() = true, want false")
		}
	})
}
