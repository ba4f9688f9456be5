package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

// DefaultKnowledgeLimit caps the knowledge text appended to prompts.
const DefaultKnowledgeLimit = 4000

// LoadKnowledge reads a store FAQ file and flattens it to plain text, cut to
// maxRunes. An empty path yields no knowledge.
func LoadKnowledge(ctx context.Context, path string, maxRunes int) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if maxRunes <= 0 {
		maxRunes = DefaultKnowledgeLimit
	}
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return "", fmt.Errorf("init parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return "", fmt.Errorf("init loader: %w", err)
	}
	docs, err := loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load %s: %w", path, err)
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
		return "", errors.New("knowledge file has no readable text")
	}
	runes := []rune(text)
	if len(runes) > maxRunes {
		text = string(runes[:maxRunes])
	}
	return text, nil
}
