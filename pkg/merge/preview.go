package merge

import (
	"bytes"
	"context"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/underlay-tools/underlay/pkg/model"
	"github.com/underlay-tools/underlay/pkg/storage"
)

// Preview renders a unified diff between the current output store and a
// plan, without writing anything. Deletions are derived from the
// previous manifest, files outside it are ignored.
func (e *Engine) Preview(
	ctx context.Context,
	plan *Plan,
	output storage.Store,
	previous *model.OutputManifest,
) (string, error) {
	var report strings.Builder

	for _, f := range plan.Files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		current, err := storage.ReadAll(ctx, output, f.Path)
		if err != nil {
			if !storage.IsNotExists(err) {
				return "", err
			}
			current = nil
		}
		if bytes.Equal(current, f.Content) {
			continue
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(current)),
			B:        difflib.SplitLines(string(f.Content)),
			FromFile: f.Path,
			ToFile:   f.Path + " (planned)",
			Context:  3,
		})
		if err != nil {
			return "", err
		}
		report.WriteString(text)
	}

	if previous != nil {
		for _, stale := range previous.Files {
			if _, planned := plan.File(stale); planned {
				continue
			}
			current, err := storage.ReadAll(ctx, output, stale)
			if err != nil {
				if storage.IsNotExists(err) {
					continue
				}
				return "", err
			}
			text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
				A:        difflib.SplitLines(string(current)),
				B:        []string{},
				FromFile: stale,
				ToFile:   stale + " (removed)",
				Context:  3,
			})
			if err != nil {
				return "", err
			}
			report.WriteString(text)
		}
	}
	return report.String(), nil
}
