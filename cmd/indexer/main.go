package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fiqh-rag/internal/app"
	"fiqh-rag/internal/bootstrap"
)

type IndexOptions struct {
	Dir             string
	ConversationUID string
}

func (o *IndexOptions) Validate() error {
	if strings.TrimSpace(o.Dir) == "" {
		return fmt.Errorf("--dir is required")
	}
	if strings.TrimSpace(o.ConversationUID) == "" {
		return fmt.Errorf("--conversation is required")
	}
	info, err := os.Stat(o.Dir)
	if err != nil {
		return fmt.Errorf("stat %s failed: %w", o.Dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", o.Dir)
	}
	return nil
}

func (o *IndexOptions) Run(ctx context.Context, out io.Writer) error {
	files, err := collectFiles(o.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found in %s", o.Dir)
	}

	application, err := bootstrap.NewIndexer(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			application.Log.WithError(err).Error("close resources failed")
		}
	}()

	res, err := application.Documents.Import(ctx, o.ConversationUID, files)
	if err != nil {
		return err
	}
	report(out, res)
	if len(res.Documents) == 0 {
		return fmt.Errorf("no document was stored")
	}
	return nil
}

// collectFiles walks dir recursively and returns its regular files in path
// order. Hidden files and directories are skipped.
func collectFiles(dir string) ([]app.UploadFile, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s failed: %w", dir, err)
	}
	sort.Strings(paths)

	files := make([]app.UploadFile, len(paths))
	for i, p := range paths {
		p := p
		files[i] = app.UploadFile{
			Filename: filepath.Base(p),
			Open:     func() (io.ReadCloser, error) { return os.Open(p) },
		}
	}
	return files, nil
}

func report(out io.Writer, res *app.UploadBatchResult) {
	for _, d := range res.Documents {
		state := "indexed"
		if !d.Searchable {
			state = "stored, not indexed"
		}
		fmt.Fprintf(out, "ok    %-40s %s %s (%d chunks)\n", d.Filename, d.UID, state, d.ChunkCount)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "error %-40s %s\n", e.Filename, e.Error)
	}
	fmt.Fprintln(out, res.Message)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "indexer",
		Short:         "Offline document ingestion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opt := &IndexOptions{}
	index := &cobra.Command{
		Use:   "index",
		Short: "Load, chunk and index every file of a directory into a conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opt.Validate(); err != nil {
				return err
			}
			return opt.Run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	flags := index.Flags()
	flags.StringVar(&opt.Dir, "dir", opt.Dir, "Directory holding the documents")
	flags.StringVar(&opt.ConversationUID, "conversation", opt.ConversationUID, "UID of an existing conversation the documents belong to")

	root.AddCommand(index)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("indexer failed")
		os.Exit(1)
	}
}
