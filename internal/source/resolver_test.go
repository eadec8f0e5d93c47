package source

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/pkg/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolve_ModeSelection(t *testing.T) {
	r := NewResolver(nil)
	tests := []struct {
		name string
		in   Input
	}{
		{"none", Input{}},
		{"two", Input{Image: "a.jpg", Dir: "imgs"}},
		{"three", Input{Image: "a.jpg", Dir: "imgs", URLList: "urls.txt"}},
		{"whitespace only", Input{Image: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.in)
			if !apperrors.IsType(err, apperrors.ErrorTypeInvalidInput) {
				t.Errorf("Resolve() error = %v, want invalid_input", err)
			}
		})
	}
}

func TestResolve_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.png"), "x")
	writeFile(t, filepath.Join(dir, "a.JPG"), "x")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	writeFile(t, filepath.Join(dir, "nested", "c.webp"), "x")

	got, err := NewResolver(nil).Resolve(Input{Dir: dir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := []string{
		filepath.Join(dir, "a.JPG"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "nested", "c.webp"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d sources, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Raw != w {
			t.Errorf("sources[%d] = %q, want %q", i, got[i].Raw, w)
		}
		if got[i].Origin != models.OriginLocalPath {
			t.Errorf("sources[%d].Origin = %s, want local", i, got[i].Origin)
		}
	}
}

func TestResolve_DirectoryWithoutImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "readme.md"), "x")

	_, err := NewResolver(nil).Resolve(Input{Dir: dir})
	if !apperrors.IsType(err, apperrors.ErrorTypeInvalidInput) {
		t.Errorf("Resolve() error = %v, want invalid_input", err)
	}
}

func TestResolve_URLList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	writeFile(t, path, `# sample list
https://example.com/one.jpg

  https://example.com/two.png
not a url
ftp://example.com/three.gif
http://example.com/four.jpg kitchen
`)

	got, err := NewResolver(nil).Resolve(Input{URLList: path})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{
		"https://example.com/one.jpg",
		"https://example.com/two.png",
		"http://example.com/four.jpg",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d sources, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Raw != w || got[i].Origin != models.OriginRemoteURL {
			t.Errorf("sources[%d] = %+v, want remote %q", i, got[i], w)
		}
	}
}

func TestResolve_URLListUnreadable(t *testing.T) {
	_, err := NewResolver(nil).Resolve(Input{URLList: filepath.Join(t.TempDir(), "missing.txt")})
	if !apperrors.IsType(err, apperrors.ErrorTypeInvalidInput) {
		t.Errorf("Resolve() error = %v, want invalid_input", err)
	}
}

func TestResolve_URLListOnlyComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	writeFile(t, path, "# nothing here\n\n")

	_, err := NewResolver(nil).Resolve(Input{URLList: path})
	if !apperrors.IsType(err, apperrors.ErrorTypeInvalidInput) {
		t.Errorf("Resolve() error = %v, want invalid_input", err)
	}
}

func TestResolve_SingleImage(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "cat.jpg")
	writeFile(t, img, "x")

	got, err := NewResolver(nil).Resolve(Input{Image: img})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].Raw != img || got[0].Origin != models.OriginLocalPath {
		t.Errorf("got %+v, want single local %q", got, img)
	}

	if _, err := NewResolver(nil).Resolve(Input{Image: dir}); !apperrors.IsType(err, apperrors.ErrorTypeInvalidInput) {
		t.Errorf("directory passed as --image: error = %v, want invalid_input", err)
	}
	if _, err := NewResolver(nil).Resolve(Input{Image: filepath.Join(dir, "nope.jpg")}); !apperrors.IsType(err, apperrors.ErrorTypeInvalidInput) {
		t.Errorf("missing image: error = %v, want invalid_input", err)
	}
}

func TestResolve_SingleImageURL(t *testing.T) {
	got, err := NewResolver(nil).Resolve(Input{Image: "https://example.com/cat.jpg"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || !got[0].IsRemote() {
		t.Errorf("got %+v, want one remote source", got)
	}
}
