package classify

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		mime string
		name string
		want Category
	}{
		{"image/png", "a.png", Image},
		{"video/mp4", "clip.mp4", Video},
		{"audio/mpeg", "song.mp3", Audio},
		{"application/octet-stream", "report.pdf", Document},
		{"application/octet-stream", "archive.zip", Other},
		{"application/pdf", "a.pdf", Document},
		{"", "Notes.TXT", Document},
		{"IMAGE/JPEG", "upper.bin", Image},
		{"text/plain", "noext", Other},
		{"application/vnd.ms-excel", "sheet.xlsx", Document},
	}

	for _, tc := range cases {
		if got := Classify(tc.mime, tc.name); got != tc.want {
			t.Errorf("Classify(%q, %q) = %s, want %s", tc.mime, tc.name, got, tc.want)
		}
	}
}

func TestExtension(t *testing.T) {
	if got := Extension("Photo.JPEG"); got != "jpeg" {
		t.Fatalf("expected jpeg, got %q", got)
	}
	if got := Extension("README"); got != "" {
		t.Fatalf("expected empty extension, got %q", got)
	}
	if got := Extension("archive.tar.gz"); got != "gz" {
		t.Fatalf("expected gz, got %q", got)
	}
}

func TestParse(t *testing.T) {
	c, err := Parse(" Document ")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if c != Document {
		t.Fatalf("expected document, got %s", c)
	}
	if _, err := Parse("images"); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}
