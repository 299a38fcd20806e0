package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

// DocumentLoader extracts text from uploaded case files so they can be
// summarized into the transcript.
type DocumentLoader struct {
	loader *file.FileLoader
}

// NewDocumentLoader builds a loader with the extension-based parser and a
// plain-text fallback.
func NewDocumentLoader() (*DocumentLoader, error) {
	parserExt, err := parser.NewExtParser(context.Background(), &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}
	loader, err := file.NewFileLoader(context.Background(), &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &DocumentLoader{loader: loader}, nil
}

// Load returns the readable text content of the file at path.
func (d *DocumentLoader) Load(ctx context.Context, path string) (string, error) {
	docs, err := d.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load file: %w", err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n\n")
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", errors.New("file has no readable text content")
	}
	return text, nil
}
