package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/underlay-tools/underlay"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Regenerate the merged output from vendor and overlay",
	Long: `Regenerate the merged output from the local vendored tree and overlay.

Build never contacts the upstream and never advances the ledger. Files the
previous merge produced that no longer belong to the output are removed,
everything else in the output directory is left alone.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		p, err := newProject()
		if err != nil {
			wrapFatalln("configure project", err)
			return
		}
		manifest, err := p.Build(ctx)
		if err != nil {
			fatalWith("build", err)
			return
		}
		infoLogger.Printf("published %d files to %s", len(manifest.Files), p.Layout().OutputDir)

		if !underlayFlags.build.watch {
			return
		}
		if err := watchAndRebuild(ctx, p); err != nil {
			wrapFatalln("watch", err)
			return
		}
	},
}

// watchAndRebuild re-runs the merge whenever vendor or overlay files
// change. Events are debounced, editors fire several per save.
func watchAndRebuild(ctx context.Context, p *underlay.Project) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Close()
	}()

	roots := []string{
		p.AbsPath(p.Layout().VendorDir),
		p.AbsPath(p.Layout().OverlayDir),
	}
	for _, root := range roots {
		if err := watchTree(watcher, root); err != nil {
			return err
		}
	}
	infoLogger.Printf("watching %s and %s", p.Layout().VendorDir, p.Layout().OverlayDir)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// new subdirectories need their own watch
				if info, serr := os.Stat(event.Name); serr == nil && info.IsDir() {
					_ = watchTree(watcher, event.Name)
				}
			}
			if !pending {
				timer.Reset(300 * time.Millisecond)
				pending = true
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			infoLogger.Println("watch error:", werr)
		case <-timer.C:
			pending = false
			manifest, berr := p.Build(ctx)
			if berr != nil {
				infoLogger.Println("build failed:", berr)
				continue
			}
			infoLogger.Printf("rebuilt %d files", len(manifest.Files))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// watchTree registers every directory below root with the watcher.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// the tree may change under the walk
			return nil
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func init() {
	addWatchFlag(buildCmd)
	rootCmd.AddCommand(buildCmd)
}
