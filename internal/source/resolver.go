package source

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/internal/logger"
	"github.com/anime-shed/image-describer-go/pkg/models"
	"github.com/anime-shed/image-describer-go/pkg/validation"
)

// imageExtensions lists the suffixes picked up when scanning a directory
var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".bmp": {},
	".gif": {}, ".tif": {}, ".tiff": {}, ".webp": {},
}

// Input is the CLI-level selection. Exactly one field must be set.
type Input struct {
	Image   string
	Dir     string
	URLList string
}

// Resolver turns an Input into an ordered list of source descriptors
type Resolver struct {
	validator *validation.URLValidator
}

// NewResolver creates a resolver validating URL entries with v
func NewResolver(v *validation.URLValidator) *Resolver {
	if v == nil {
		v = validation.NewURLValidator()
	}
	return &Resolver{validator: v}
}

// Resolve returns the descriptors in directory-walk or file-line order.
// Every failure is an invalid_input AppError.
func (r *Resolver) Resolve(in Input) ([]models.SourceDescriptor, error) {
	modes := 0
	for _, v := range []string{in.Image, in.Dir, in.URLList} {
		if strings.TrimSpace(v) != "" {
			modes++
		}
	}
	if modes != 1 {
		return nil, apperrors.NewInvalidInputError(
			fmt.Sprintf("exactly one of --image, --dir or --urls is required (got %d)", modes), nil)
	}

	switch {
	case strings.TrimSpace(in.Image) != "":
		return r.resolveImage(strings.TrimSpace(in.Image))
	case strings.TrimSpace(in.Dir) != "":
		return r.resolveDir(strings.TrimSpace(in.Dir))
	default:
		return r.resolveURLList(strings.TrimSpace(in.URLList))
	}
}

func (r *Resolver) resolveImage(path string) ([]models.SourceDescriptor, error) {
	if isURL(path) {
		if err := r.validator.ValidateImageURL(path); err != nil {
			return nil, err
		}
		return []models.SourceDescriptor{{Origin: models.OriginRemoteURL, Raw: path}}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("image not readable: "+path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, apperrors.NewInvalidInputError("image is not a regular file: "+path, nil)
	}
	return []models.SourceDescriptor{{Origin: models.OriginLocalPath, Raw: path}}, nil
}

func (r *Resolver) resolveDir(dir string) ([]models.SourceDescriptor, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("directory not readable: "+dir, err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewInvalidInputError("not a directory: "+dir, nil)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewInvalidInputError("listing directory "+dir, err)
	}
	if len(paths) == 0 {
		return nil, apperrors.NewInvalidInputError("no images found in "+dir, nil)
	}

	sort.Strings(paths)
	out := make([]models.SourceDescriptor, len(paths))
	for i, p := range paths {
		out[i] = models.SourceDescriptor{Origin: models.OriginLocalPath, Raw: p}
	}
	return out, nil
}

func (r *Resolver) resolveURLList(path string) ([]models.SourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("URL list not readable: "+path, err)
	}

	var out []models.SourceDescriptor
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := r.validator.ExtractImageURL(line)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"file": path,
				"line": lineNo,
			}).Warn("Skipping unusable URL entry")
			continue
		}
		out = append(out, models.SourceDescriptor{Origin: models.OriginRemoteURL, Raw: u})
	}
	if err := sc.Err(); err != nil {
		return nil, apperrors.NewInvalidInputError("reading URL list "+path, err)
	}
	if len(out) == 0 {
		return nil, apperrors.NewInvalidInputError("no URLs found in "+path, nil)
	}
	return out, nil
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
