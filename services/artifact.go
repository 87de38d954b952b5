package services

import (
	"fmt"
	"path"
	"strings"
	"unicode"
)

// TranscriptHeader separates the summary from the raw transcript.
const TranscriptHeader = "# Transcript:"

// Artifact is the composed transcript+summary document ready for upload.
type Artifact struct {
	Name string
	Slug string
	Key  string
	Body []byte
}

// Compose joins the summary and the raw transcript into one document.
func Compose(summary, transcript string) []byte {
	return []byte(summary + "\n" + TranscriptHeader + "\n" + transcript)
}

// ResolveName returns the artifact file name and slug. A missing or unusable
// derived name falls back to one built from the record id.
func ResolveName(derivedName string, recordID int64) (name, slug string) {
	slug = sanitizeName(derivedName)
	if slug == "" {
		slug = fmt.Sprintf("record_%d_transcript", recordID)
	}
	return slug + ".txt", slug
}

// BuildArtifact composes the document and derives its storage key.
func BuildArtifact(recordID int64, keyPrefix string, summary Summary, transcript string) Artifact {
	name, slug := ResolveName(summary.DerivedName, recordID)
	return Artifact{
		Name: name,
		Slug: slug,
		Key:  fmt.Sprintf("%s%d/%s", keyPrefix, recordID, name),
		Body: Compose(summary.Body, transcript),
	}
}

func sanitizeName(raw string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(base) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || unicode.IsSpace(r):
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_-")
}
