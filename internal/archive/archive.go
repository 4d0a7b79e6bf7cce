// Package archive keeps a copy of each normalized study image and returns a
// reference that is stored on the study record.
package archive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/radprogressor-server/internal/domain"
)

// ContentTypePNG is the content type of archived study images.
const ContentTypePNG = "image/png"

// Nop discards images and returns an empty reference.
type Nop struct{}

// Put implements domain.ImageArchive.
func (Nop) Put(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}

// StudyKey builds the object key for a study image.
func StudyKey(patientID, studyID string) string {
	return fmt.Sprintf("studies/%s/%s.png", sanitize(patientID), sanitize(studyID))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// New builds the archive selected by config.
func New(ctx context.Context, config domain.ArchiveConfig) (domain.ImageArchive, error) {
	switch config.Driver {
	case "", "none":
		return Nop{}, nil
	case "local":
		return NewLocalStore(config.LocalPath)
	case "s3":
		return NewS3Store(ctx, config)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", config.Driver)
	}
}
