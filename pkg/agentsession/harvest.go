package agentsession

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	maxHarvestImageBytes = 5 * 1024 * 1024
	maxHarvestFileBytes  = 1024 * 1024 * 1024
	maxHarvestFiles      = 10
)

// markdownImageRE matches ![alt](path); markdownFileRE matches [text](path)
// that isn't an image link (no leading "!").
var (
	markdownImageRE = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)
	markdownLinkRE  = regexp.MustCompile(`(^|[^!])\[[^\]]*\]\(([^)\s]+)\)`)
)

// harvest scans text for markdown image/file references and resolves them
// under the session's workspace root. A reference outside the root (after
// resolving symlinks) is dropped, not just string-prefix checked, per
// spec.md §4.F. Oversize and over-count references are dropped with a
// warning. Returns the resolved, harvested image and file paths.
func (s *Session) harvest(text string) (images, files []string) {
	if s.workRoot == "" {
		return nil, nil
	}
	root, err := filepath.EvalSymlinks(s.workRoot)
	if err != nil {
		slog.Warn("harvest: workspace root unresolvable, skipping", "thread_id", s.ThreadID, "root", s.workRoot, "error", err)
		return nil, nil
	}

	for _, m := range markdownImageRE.FindAllStringSubmatch(text, -1) {
		if len(images)+len(files) >= maxHarvestFiles {
			slog.Warn("harvest: file limit reached, dropping remaining references", "thread_id", s.ThreadID, "limit", maxHarvestFiles)
			break
		}
		if p, ok := resolveUnder(root, m[1]); ok {
			info, err := os.Stat(p)
			if err != nil {
				continue
			}
			if info.Size() > maxHarvestImageBytes {
				slog.Warn("harvest: image exceeds size limit, dropped", "thread_id", s.ThreadID, "path", p, "bytes", info.Size())
				continue
			}
			images = append(images, p)
		}
	}
	for _, m := range markdownLinkRE.FindAllStringSubmatch(text, -1) {
		if len(images)+len(files) >= maxHarvestFiles {
			slog.Warn("harvest: file limit reached, dropping remaining references", "thread_id", s.ThreadID, "limit", maxHarvestFiles)
			break
		}
		if p, ok := resolveUnder(root, m[2]); ok {
			info, err := os.Stat(p)
			if err != nil {
				continue
			}
			if info.Size() > maxHarvestFileBytes {
				slog.Warn("harvest: file exceeds size limit, dropped", "thread_id", s.ThreadID, "path", p, "bytes", info.Size())
				continue
			}
			files = append(files, p)
		}
	}
	return images, files
}

// resolveUnder joins ref under root, resolves symlinks, and verifies the
// result is still contained in root by path comparison, not string prefix
// matching (so "/root-evil" doesn't pass a prefix check against "/root").
func resolveUnder(root, ref string) (string, bool) {
	ref = strings.TrimPrefix(ref, "./")
	if filepath.IsAbs(ref) {
		return "", false
	}
	candidate := filepath.Join(root, ref)
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return resolved, true
}
