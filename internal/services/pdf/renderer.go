package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	baseFont     = "Arial"
	baseSize     = 10.0
	lineHeight   = 5.0
	marginMM     = 15.0
	contentWidth = 210.0 - 2*marginMM // A4
)

// Document is a titled markdown body, e.g. a portal message
type Document struct {
	Title    string
	Subtitle string // Sender, date and similar, printed under the title
	Markdown string
}

// Renderer turns markdown documents into PDFs
type Renderer struct {
	logger arbor.ILogger
}

// NewRenderer creates a markdown to PDF renderer
func NewRenderer(logger arbor.ILogger) *Renderer {
	return &Renderer{logger: logger}
}

// Render lays out the document on A4 pages with core fonts
func (r *Renderer) Render(doc Document) ([]byte, error) {
	r.logger.Debug().
		Int("markdown_len", len(doc.Markdown)).
		Str("title", doc.Title).
		Msg("Rendering document to PDF")

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(true, marginMM)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("hrsync", true)
	pdf.AddPage()

	// Core fonts are cp1252; translate so accented names survive
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if doc.Title != "" {
		pdf.SetFont(baseFont, "B", 14)
		pdf.MultiCell(0, 7, tr(doc.Title), "", "L", false)
	}
	if doc.Subtitle != "" {
		pdf.SetFont(baseFont, "I", 9)
		pdf.SetTextColor(90, 90, 90)
		pdf.MultiCell(0, lineHeight, tr(doc.Subtitle), "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}
	if doc.Title != "" || doc.Subtitle != "" {
		pdf.Ln(2)
		pdf.Line(marginMM, pdf.GetY(), marginMM+contentWidth, pdf.GetY())
		pdf.Ln(4)
	}

	source := []byte(doc.Markdown)
	md := goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))
	root := md.Parser().Parse(text.NewReader(source))

	w := &walker{pdf: pdf, source: source, tr: tr}
	w.setFont()
	if err := ast.Walk(root, w.walk); err != nil {
		return nil, fmt.Errorf("failed to lay out document: %w", err)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}

	r.logger.Debug().Int("pdf_size", buf.Len()).Msg("PDF generated")
	return buf.Bytes(), nil
}

type walker struct {
	pdf       *fpdf.Fpdf
	source    []byte
	tr        func(string) string
	bold      bool
	italic    bool
	listLevel int
	link      string
}

func (w *walker) setFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.pdf.SetFont(baseFont, style, baseSize)
}

func (w *walker) write(s string) {
	if w.link != "" {
		w.pdf.SetTextColor(0, 70, 160)
		w.pdf.WriteLinkString(lineHeight, w.tr(s), w.link)
		w.pdf.SetTextColor(0, 0, 0)
		return
	}
	w.pdf.Write(lineHeight, w.tr(s))
}

func (w *walker) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			w.pdf.Ln(3)
			w.pdf.SetFont(baseFont, "B", 14-float64(min(node.Level, 4)))
		} else {
			w.pdf.Ln(7)
			w.setFont()
		}

	case *ast.Paragraph:
		if !entering {
			if w.listLevel > 0 {
				w.pdf.Ln(lineHeight)
			} else {
				w.pdf.Ln(7)
			}
		}

	case *ast.Text:
		if entering {
			w.write(string(node.Segment.Value(w.source)))
			if node.SoftLineBreak() {
				w.write(" ")
			}
			if node.HardLineBreak() {
				w.pdf.Ln(lineHeight)
			}
		}

	case *ast.String:
		if entering {
			w.write(string(node.Value))
		}

	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.setFont()

	case *ast.Link:
		if entering {
			w.link = string(node.Destination)
		} else {
			w.link = ""
		}

	case *ast.AutoLink:
		if entering {
			url := string(node.URL(w.source))
			w.link = url
			w.write(url)
			w.link = ""
		}
		return ast.WalkSkipChildren, nil

	case *ast.CodeSpan:
		if entering {
			w.pdf.SetFont("Courier", "", baseSize)
			w.write(string(node.Text(w.source)))
			w.setFont()
		}
		return ast.WalkSkipChildren, nil

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			w.codeBlock(n.Lines())
		}
		return ast.WalkSkipChildren, nil

	case *ast.Blockquote:
		if entering {
			w.pdf.SetLeftMargin(marginMM + 6)
			w.pdf.SetX(marginMM + 6)
			w.italic = true
		} else {
			w.pdf.SetLeftMargin(marginMM)
			w.italic = false
		}
		w.setFont()

	case *ast.List:
		if entering {
			w.listLevel++
		} else {
			w.listLevel--
			if w.listLevel == 0 {
				w.pdf.Ln(2)
			}
		}

	case *ast.ListItem:
		if entering {
			indent := marginMM + float64(w.listLevel)*5
			w.pdf.SetLeftMargin(indent + 4)
			w.pdf.SetX(indent)
			w.pdf.Write(lineHeight, "- ")
		} else {
			w.pdf.SetLeftMargin(marginMM)
		}

	case *ast.ThematicBreak:
		if entering {
			w.pdf.Ln(2)
			w.pdf.Line(marginMM, w.pdf.GetY(), marginMM+contentWidth, w.pdf.GetY())
			w.pdf.Ln(2)
		}

	case *extast.Table:
		if entering {
			w.table(node)
		}
		return ast.WalkSkipChildren, nil
	}

	return ast.WalkContinue, nil
}

func (w *walker) codeBlock(lines *text.Segments) {
	w.pdf.Ln(1)
	w.pdf.SetFont("Courier", "", 9)
	w.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		w.pdf.MultiCell(0, 4.5, w.tr(strings.TrimRight(string(line.Value(w.source)), "\n")), "", "L", true)
	}
	w.pdf.SetFillColor(255, 255, 255)
	w.setFont()
	w.pdf.Ln(2)
}

// table draws equal-width columns; the header row is shaded
func (w *walker) table(n *extast.Table) {
	var rows [][]string
	for row := n.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, w.tr(strings.TrimSpace(string(cell.Text(w.source)))))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	cols := len(rows[0])
	width := contentWidth / float64(cols)
	w.pdf.Ln(1)
	for i, row := range rows {
		style, fill := "", false
		if i == 0 {
			style, fill = "B", true
			w.pdf.SetFillColor(230, 230, 230)
		}
		w.pdf.SetFont(baseFont, style, 8)
		for j := 0; j < cols; j++ {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			for len(cell) > 3 && w.pdf.GetStringWidth(cell) > width-2 {
				cell = cell[:len(cell)-4] + "..."
			}
			w.pdf.CellFormat(width, 6, cell, "1", 0, "L", fill, 0, "")
		}
		w.pdf.Ln(-1)
	}
	w.pdf.SetFillColor(255, 255, 255)
	w.setFont()
	w.pdf.Ln(3)
}
