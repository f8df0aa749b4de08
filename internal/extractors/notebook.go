package extractors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-indexer/internal/chunker"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// MethodNotebookCells is reported for Jupyter notebooks split by cell.
const MethodNotebookCells = "notebook:cells"

// Notebook handles Jupyter .ipynb files. Outputs are ignored.
type Notebook struct {
	splitter *chunker.Splitter
}

// NewNotebook creates a notebook extractor.
func NewNotebook(splitter *chunker.Splitter) *Notebook {
	return &Notebook{splitter: splitter}
}

// Kind returns domain.ContentKindNotebook.
func (n *Notebook) Kind() domain.ContentKind { return domain.ContentKindNotebook }

// Extensions returns ".ipynb".
func (n *Notebook) Extensions() []string { return []string{".ipynb"} }

type notebookFile struct {
	Cells    []notebookCell `json:"cells"`
	Metadata struct {
		KernelSpec struct {
			Language string `json:"language"`
		} `json:"kernelspec"`
		LanguageInfo struct {
			Name string `json:"name"`
		} `json:"language_info"`
	} `json:"metadata"`
}

type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// text accepts both the string and the list-of-lines source forms.
func (c notebookCell) text() (string, error) {
	if len(c.Source) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(c.Source, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(c.Source, &lines); err != nil {
		return "", err
	}
	return strings.Join(lines, ""), nil
}

// Extract emits the cells in order, splitting any that exceed the chunk size.
func (n *Notebook) Extract(_ context.Context, path string, content []byte) (*driven.Extraction, error) {
	var nb notebookFile
	if err := json.Unmarshal(content, &nb); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}

	lang := nb.Metadata.LanguageInfo.Name
	if lang == "" {
		lang = nb.Metadata.KernelSpec.Language
	}

	title := ""
	var chunks []driven.ChunkDraft
	for i, cell := range nb.Cells {
		text, err := cell.text()
		if err != nil {
			return nil, fmt.Errorf("parse notebook cell %d: %w", i, err)
		}
		if cell.CellType == "markdown" {
			if title == "" {
				title = firstHeading(text)
			}
			text = stripMarkdown(text)
		}
		meta := map[string]string{
			"cell":      strconv.Itoa(i),
			"cell_type": cell.CellType,
		}
		if cell.CellType == "code" && lang != "" {
			meta["language"] = lang
		}
		chunks = append(chunks, drafts(n.splitter.Split(text), meta)...)
	}
	if title == "" {
		title = domain.TitleFromPath(path)
	}

	return &driven.Extraction{
		Kind:   n.Kind(),
		Title:  title,
		Method: MethodNotebookCells,
		Chunks: chunks,
	}, nil
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if m := headingLine.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[2])
		}
	}
	return ""
}
