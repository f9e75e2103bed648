package ddl

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Separator frames the generated header block.
var Separator = "-- " + strings.Repeat("=", 76)

const (
	checksumPrefix = "-- Checksum: sha256:"
	banner         = "-- AUTO-GENERATED FILE - DO NOT EDIT. Regenerate with `cdcmigrate generate`."
	generatedAtTag = "-- Generated at: "
)

var checksumLineRe = regexp.MustCompile(`(?m)^-- Checksum: sha256:([0-9a-f]{64})\s*$`)

// Header renders the comment block placed at the top of every generated file.
func Header(generatedAt time.Time) string {
	return strings.Join([]string{
		Separator,
		banner,
		generatedAtTag + generatedAt.UTC().Format(time.RFC3339),
		Separator,
	}, "\n") + "\n"
}

// ComputeChecksum hashes the logical SQL body of text: the header block
// (first separator to second separator) and any checksum line are excluded,
// so files that only differ in generation time hash the same.
func ComputeChecksum(text string) string {
	sum := sha256.Sum256([]byte(checksumBody(text)))
	return hex.EncodeToString(sum[:])
}

// InjectChecksum places a checksum line right after the header block, or at
// the top of the text when there is no header. An existing checksum line is
// replaced.
func InjectChecksum(text string) string {
	sum := ComputeChecksum(text)
	lines := strings.Split(stripChecksum(text), "\n")
	line := checksumPrefix + sum

	first, second := separators(lines)
	if second < 0 || first < 0 {
		return line + "\n" + strings.Join(lines, "\n")
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:second+1]...)
	out = append(out, line)
	out = append(out, lines[second+1:]...)
	return strings.Join(out, "\n")
}

// ExtractChecksum returns the embedded checksum, if any.
func ExtractChecksum(text string) (string, bool) {
	m := checksumLineRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func checksumBody(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	first, second := separators(lines)
	kept := make([]string, 0, len(lines))
	for i, l := range lines {
		if first >= 0 && second >= 0 && i >= first && i <= second {
			continue
		}
		if strings.HasPrefix(l, checksumPrefix) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func stripChecksum(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(l, checksumPrefix) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

func separators(lines []string) (int, int) {
	first, second := -1, -1
	for i, l := range lines {
		if strings.TrimRight(l, " \t\r") != Separator {
			continue
		}
		if first < 0 {
			first = i
			continue
		}
		second = i
		break
	}
	return first, second
}
