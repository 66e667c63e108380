package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mneme/emr/internal/domain/importer"
	"github.com/mneme/emr/internal/domain/record"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file-or-dir>...",
		Short: "Import clinical documents from disk",
		Long: "Import one or more documents. Directories contribute every *.json and *.xml\n" +
			"file directly inside them. A JSON summary is written to stdout.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("format")
			format, err := importer.ParseFormat(name)
			if err != nil {
				return err
			}
			docs, err := loadDocuments(args, format)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no .json or .xml files found")
			}

			ctx := cmd.Context()
			_, logger, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := importer.NewService(importer.NewPGGateway(pool), importer.DefaultAdapters(logger), logger, nil)
			label := fmt.Sprintf("cli_%d_files", len(docs))
			br := svc.ImportBatchTracked(ctx, label, format, docs)

			if err := writeSummary(cmd.OutOrStdout(), br); err != nil {
				return err
			}
			if br.Failed > 0 {
				return fmt.Errorf("%d of %d documents failed", br.Failed, br.TotalFiles)
			}
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", "", "Source format: fhir, ccda or json")
	cmd.MarkFlagRequired("format")
	return cmd
}

func writeSummary(w io.Writer, br *importer.BatchResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(br)
}

func importable(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".xml":
		return true
	}
	return false
}

// collectFiles expands directories one level deep. Explicit file arguments
// are kept whatever their extension.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", arg, err)
		}
		var found []string
		for _, entry := range entries {
			if !entry.IsDir() && importable(entry.Name()) {
				found = append(found, filepath.Join(arg, entry.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func loadDocuments(args []string, format record.Format) ([]importer.Document, error) {
	files, err := collectFiles(args)
	if err != nil {
		return nil, err
	}
	docs := make([]importer.Document, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, importer.Document{Name: filepath.Base(path), Format: format, Data: data})
	}
	return docs, nil
}
