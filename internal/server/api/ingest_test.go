package api

import "testing"

func TestSniffImageMime(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want string
		ok   bool
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}, "image/jpeg", true},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0d"), "image/png", true},
		{"gif87a", []byte("GIF87a\x01\x00\x01\x00\x80\x00"), "image/gif", true},
		{"gif89a", []byte("GIF89a\x01\x00\x01\x00\x80\x00"), "image/gif", true},
		{"webp", []byte("RIFF\x24\x00\x00\x00WEBP"), "image/webp", true},
		{"riff but not webp", []byte("RIFF\x24\x00\x00\x00WAVE"), "", false},
		{"plain text", []byte("hello world!"), "", false},
		{"html disguised as image", []byte("<html><body>"), "", false},
		{"truncated", []byte{0xFF}, "", false},
		{"empty", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sniffImageMime(tt.head)
			if got != tt.want || ok != tt.ok {
				t.Errorf("sniffImageMime(%q) = (%q, %v), want (%q, %v)", tt.head, got, ok, tt.want, tt.ok)
			}
		})
	}
}
