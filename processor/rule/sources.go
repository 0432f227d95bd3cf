package rule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/c360/assetflow/errors"
	trule "github.com/c360/assetflow/types/rule"
)

// FileSourceProvider reads rule sources from files and directories. Directory
// entries with a .json, .yaml or .yml extension are read in name order.
type FileSourceProvider struct {
	paths  []string
	logger *slog.Logger
}

// NewFileSourceProvider creates a provider over paths.
func NewFileSourceProvider(paths []string, logger *slog.Logger) *FileSourceProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSourceProvider{paths: paths, logger: logger.With("component", "rule-sources")}
}

// Resources implements RuleSourceProvider. Sources that cannot be read are
// reported in the returned error; the readable ones are still returned.
func (p *FileSourceProvider) Resources(ctx context.Context) ([]trule.RuleSource, error) {
	var files []string
	var errs []error

	for _, path := range p.paths {
		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, errors.Wrap(err, "FileSourceProvider", "Resources", "stat "+path))
			continue
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			errs = append(errs, errors.Wrap(err, "FileSourceProvider", "Resources", "read dir "+path))
			continue
		}
		var dirFiles []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if _, err := trule.KindForPath(entry.Name()); err == nil {
				dirFiles = append(dirFiles, filepath.Join(path, entry.Name()))
			}
		}
		sort.Strings(dirFiles)
		files = append(files, dirFiles...)
	}

	sources := make([]trule.RuleSource, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return sources, err
		}

		kind, err := trule.KindForPath(file)
		if err != nil {
			errs = append(errs, errors.WrapInvalid(err, "FileSourceProvider", "Resources", "detect kind of "+file))
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			errs = append(errs, errors.Wrap(err, "FileSourceProvider", "Resources", "read "+file))
			continue
		}

		p.logger.Debug("Loaded rule source", "path", file, "kind", kind, "bytes", len(content))
		sources = append(sources, trule.RuleSource{Path: file, Content: content, Kind: kind})
	}

	return sources, errors.Join(errs...)
}

// StaticSourceProvider serves a fixed list of sources.
type StaticSourceProvider []trule.RuleSource

// Resources implements RuleSourceProvider.
func (p StaticSourceProvider) Resources(context.Context) ([]trule.RuleSource, error) {
	out := make([]trule.RuleSource, len(p))
	copy(out, p)
	return out, nil
}

// InlineSource builds a source from text, deriving its kind from name.
func InlineSource(name, content string) (trule.RuleSource, error) {
	kind, err := trule.KindForPath(name)
	if err != nil {
		return trule.RuleSource{}, fmt.Errorf("inline rule source %q: %w", name, err)
	}
	return trule.RuleSource{Path: name, Content: []byte(content), Kind: kind}, nil
}

// ChainSourceProvider concatenates providers in order.
type ChainSourceProvider []trule.RuleSourceProvider

// Resources implements RuleSourceProvider.
func (c ChainSourceProvider) Resources(ctx context.Context) ([]trule.RuleSource, error) {
	var all []trule.RuleSource
	var errs []error
	for _, p := range c {
		sources, err := p.Resources(ctx)
		all = append(all, sources...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return all, errors.Join(errs...)
}
