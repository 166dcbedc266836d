package extsort

import (
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// UnknownCategory is the folder for files without an extension.
const UnknownCategory = "unknown"

type CaseMode int

const (
	// CasePreserve keeps extensions as written, so "a.JPG" and "b.jpg" land
	// in different folders.
	CasePreserve CaseMode = iota
	// CaseLower folds extensions to lower case.
	CaseLower
)

func ParseCaseMode(s string) (CaseMode, error) {
	switch strings.ToLower(s) {
	case "", "preserve":
		return CasePreserve, nil
	case "lower":
		return CaseLower, nil
	}
	return CasePreserve, errors.Errorf("invalid case mode %q", s)
}

func (m CaseMode) String() string {
	if m == CaseLower {
		return "lower"
	}
	return "preserve"
}

// Extension returns the part of name after its last dot, without the dot.
// Names without a dot, names whose only dot is the leading one and names
// ending in a dot have no extension.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return name[i+1:]
}

// Category returns the destination folder name for a file named name.
func Category(name string, mode CaseMode) string {
	ext := Extension(name)
	if ext == "" {
		return UnknownCategory
	}
	if mode == CaseLower {
		ext = strings.ToLower(ext)
	}
	return ext
}

// Sniff detects a category from the leading bytes of r. It returns
// UnknownCategory when the content type has no well known extension.
func Sniff(r io.Reader) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return UnknownCategory, errors.Wrap(err, "failed to detect content type")
	}
	ext := strings.TrimPrefix(mt.Extension(), ".")
	if ext == "" {
		return UnknownCategory, nil
	}
	return ext, nil
}
