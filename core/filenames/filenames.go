// Package filenames models the files a simulation run declares on its command
// line and the naming rules used when a run is continued.
package filenames

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	CheckpointInputOption  = "-cpi"
	CheckpointOutputOption = "-cpo"
	LogOption              = "-g"

	LogExtension = ".log"
)

var partSuffixPattern = regexp.MustCompile(`\.part[0-9]{4}$`)

type File struct {
	Option string `json:"option"`
	Path   string `json:"path"`
	Output bool   `json:"output"`
	// Set is true when the path was supplied explicitly rather than defaulted.
	Set bool `json:"set"`
}

// Set is the ordered list of files declared by a run. It is treated as a value:
// methods that rename files return a new Set.
type Set struct {
	files []File
}

func NewSet(files ...File) Set {
	return Set{files: append([]File(nil), files...)}
}

func (s Set) Files() []File {
	return append([]File(nil), s.files...)
}

func (s Set) lookup(option string) (File, bool) {
	for _, file := range s.files {
		if file.Option == option {
			return file, true
		}
	}
	return File{}, false
}

// IsSet reports whether option was given explicitly.
func (s Set) IsSet(option string) bool {
	file, ok := s.lookup(option)
	return ok && file.Set
}

func (s Set) Path(option string) string {
	file, _ := s.lookup(option)
	return file.Path
}

// LogPath returns the path of the run's log file, falling back to the first
// declared output with the log extension.
func (s Set) LogPath() string {
	if file, ok := s.lookup(LogOption); ok {
		return file.Path
	}
	for _, file := range s.files {
		if file.Output && HasLogExtension(file.Path) {
			return file.Path
		}
	}
	return ""
}

// IsDeclaredOutput reports whether path is exactly one of the run's output names.
func (s Set) IsDeclaredOutput(path string) bool {
	for _, file := range s.files {
		if file.Output && file.Path == path {
			return true
		}
	}
	return false
}

// WithSuffix returns a copy where every non-checkpoint output has suffix
// inserted before its extension.
func (s Set) WithSuffix(suffix string) Set {
	renamed := s.Files()
	for index, file := range renamed {
		if !file.Output || file.Option == CheckpointOutputOption {
			continue
		}
		renamed[index].Path = AddSuffix(file.Path, suffix)
	}
	return Set{files: renamed}
}

// PartSuffix is the suffix given to output files of simulation part number part.
func PartSuffix(part int) string {
	return fmt.Sprintf(".part%04d", part)
}

// AddSuffix inserts suffix between the stem and the extension of path.
func AddSuffix(path string, suffix string) string {
	extension := filepath.Ext(path)
	return strings.TrimSuffix(path, extension) + suffix + extension
}

// HasPartSuffix reports whether the stem of path ends in ".partNNNN", which is
// how outputs of a run that did not append are named.
func HasPartSuffix(path string) bool {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return partSuffixPattern.MatchString(stem)
}

func HasLogExtension(path string) bool {
	return filepath.Ext(path) == LogExtension
}
