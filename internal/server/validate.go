package server

import (
	"path/filepath"
	"regexp"
	"strings"
)

// maxProjectIDLen caps project ids because they become log file names.
const maxProjectIDLen = 64

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// sanitizeBase normalizes a base path to "" or "/segment[/...]" with no
// trailing slash.
func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// isSafeName reports whether s can serve as a project id: restricted charset,
// must start alphanumeric, no "..", bounded length.
func isSafeName(s string) bool {
	if len(s) > maxProjectIDLen || strings.Contains(s, "..") {
		return false
	}
	return projectIDPattern.MatchString(s)
}

// isSafeAbsPath accepts an empty path or an absolute one whose segments never
// include "." or "..".
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	for _, seg := range strings.Split(p, string(filepath.Separator)) {
		if seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
