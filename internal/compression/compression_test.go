package compression

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func codecs(t *testing.T) []Codec {
	t.Helper()
	var out []Codec
	for _, name := range []string{"lz4", "zstd"} {
		c, err := ForName(name)
		if err != nil {
			t.Fatalf("ForName(%q): %v", name, err)
		}
		if c.Name() != name {
			t.Fatalf("codec name = %q, want %q", c.Name(), name)
		}
		out = append(out, c)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"compressible": bytes.Repeat([]byte("the quick brown fox "), 100),
		"binary runs":  bytes.Repeat([]byte{0x00, 0xFF, 0x00}, 500),
		"tiny":         []byte("x"),
		"empty":        nil,
	}
	for _, c := range codecs(t) {
		for name, input := range inputs {
			comp, err := c.Compress(input)
			if err != nil {
				t.Fatalf("%s/%s Compress: %v", c.Name(), name, err)
			}
			got, err := c.Decompress(comp)
			if err != nil {
				t.Fatalf("%s/%s Decompress: %v", c.Name(), name, err)
			}
			if !bytes.Equal(got, input) {
				t.Errorf("%s/%s round trip mismatch: %d bytes in, %d bytes out", c.Name(), name, len(input), len(got))
			}
		}
	}
}

func TestCompressibleInputShrinks(t *testing.T) {
	input := bytes.Repeat([]byte("abcdefgh"), 1000)
	for _, c := range codecs(t) {
		comp, err := c.Compress(input)
		if err != nil {
			t.Fatalf("%s Compress: %v", c.Name(), err)
		}
		if len(comp) >= len(input) {
			t.Errorf("%s did not shrink a highly repetitive input: %d -> %d", c.Name(), len(input), len(comp))
		}
	}
}

func TestIncompressibleInputSurvives(t *testing.T) {
	input := make([]byte, 4096)
	if _, err := rand.Read(input); err != nil {
		t.Fatalf("rand: %v", err)
	}
	for _, c := range codecs(t) {
		comp, err := c.Compress(input)
		if err != nil {
			t.Fatalf("%s Compress: %v", c.Name(), err)
		}
		got, err := c.Decompress(comp)
		if err != nil {
			t.Fatalf("%s Decompress: %v", c.Name(), err)
		}
		if !bytes.Equal(got, input) {
			t.Errorf("%s corrupted random input", c.Name())
		}
	}
}

func TestDecompressGarbage(t *testing.T) {
	for _, c := range codecs(t) {
		if _, err := c.Decompress([]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}); err == nil {
			t.Errorf("%s decompressed garbage without error", c.Name())
		}
	}
}

func TestForNameUnknown(t *testing.T) {
	if _, err := ForName("snappy"); err == nil {
		t.Error("ForName(snappy) succeeded, want error")
	}
	c, err := ForName("")
	if err != nil || c.Name() != "lz4" {
		t.Errorf("ForName(empty) = %v, %v, want default lz4", c, err)
	}
}
