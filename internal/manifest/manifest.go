// Package manifest rewrites port numbers in a project's package.json scripts.
// It is a best-effort textual repair used after a failed health check, not a
// full command-line parser.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// FileName is the manifest looked for at the project root.
const FileName = "package.json"

// scriptNames are the script entries eligible for port remediation.
var scriptNames = []string{"dev", "start", "serve", "preview"}

// Three independent substitutions, all case-insensitive. The boundary groups
// keep "-p" from matching inside "--port" and "PORT=" from matching the tail
// of "--port=".
var (
	longFlagRe  = regexp.MustCompile(`(?i)--port[= ](\d+)`)
	shortFlagRe = regexp.MustCompile(`(?i)(^|[\s'"])-p[= ](\d+)`)
	envAssignRe = regexp.MustCompile(`(?i)(^|[\s'";&])PORT=(\d+)`)
)

// FixPortInProjectConfig rewrites dev/start/serve/preview scripts in the
// manifest under workDir so that --port, -p, and inline PORT= references use
// targetPort. The rewritten manifest keeps unrelated content intact and is
// pretty-printed with two-space indentation. Returns true when anything
// changed on disk.
func FixPortInProjectConfig(workDir string, targetPort int) (bool, error) {
	path := filepath.Join(workDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return false, fmt.Errorf("%s: invalid JSON", path)
	}
	if !gjson.GetBytes(data, "scripts").IsObject() {
		return false, nil
	}

	changed := false
	out := data
	for _, name := range scriptNames {
		key := "scripts." + name
		script := gjson.GetBytes(out, key)
		if script.Type != gjson.String {
			continue
		}
		fixed := rewriteScript(script.String(), targetPort)
		if fixed == script.String() {
			continue
		}
		out, err = sjson.SetBytes(out, key, fixed)
		if err != nil {
			return false, fmt.Errorf("rewrite %s: %w", key, err)
		}
		changed = true
	}
	if !changed {
		return false, nil
	}

	out = pretty.PrettyOptions(out, &pretty.Options{Indent: "  "})
	info, err := os.Stat(path)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(path, out, mode); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// rewriteScript applies the three port substitutions to a single script line.
func rewriteScript(script string, targetPort int) string {
	p := strconv.Itoa(targetPort)
	s := longFlagRe.ReplaceAllString(script, "--port "+p)
	s = shortFlagRe.ReplaceAllString(s, "${1}-p "+p)
	s = envAssignRe.ReplaceAllString(s, "${1}PORT="+p)
	return s
}
