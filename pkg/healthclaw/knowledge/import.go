package knowledge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// jsonlDocument is one line of a JSONL corpus file.
type jsonlDocument struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// ImportPath indexes a file or every .md, .txt and .jsonl file under a
// directory. It returns the number of chunks written.
func (s *Store) ImportPath(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return s.importFile(ctx, path, filepath.Base(path))
	}

	total := 0
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(path, p)
		n, err := s.importFile(ctx, p, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}

func (s *Store) importFile(ctx context.Context, path, source string) (int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		return s.IndexDocument(ctx, source, string(data))
	case ".jsonl":
		return s.importJSONL(ctx, path, source)
	default:
		s.logger.Debug("skipping unsupported file", "path", path)
		return 0, nil
	}
}

func (s *Store) importJSONL(ctx context.Context, path, source string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	total := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var doc jsonlDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return total, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if doc.Source == "" {
			doc.Source = fmt.Sprintf("%s#%d", source, line)
		}
		n, err := s.IndexDocument(ctx, doc.Source, doc.Text)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, sc.Err()
}
