package roster

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"gradi/internal/logging"
	"gradi/internal/services"
	"gradi/internal/studentid"
)

const (
	maxSearchRows        = 50
	maxSearchCols        = 20
	maxExtractionRows    = 10000
	maxConsecutiveErrors = 5
)

var headerKeywords = []string{
	"학번",
	"studentid",
	"student_id",
	"학생번호",
}

var zipMagic = []byte("PK\x03\x04")

// Parser turns a downloaded roster document into identifiers.
type Parser interface {
	Parse(ctx context.Context, name string, data []byte) ([]string, error)
}

// SpreadsheetParser reads xlsx and csv attendance sheets.
type SpreadsheetParser struct {
	logger *slog.Logger
}

// NewParser constructs a spreadsheet parser.
func NewParser(logger *slog.Logger) *SpreadsheetParser {
	return &SpreadsheetParser{
		logger: logging.NewComponentLogger(logger, "roster"),
	}
}

// Parse extracts identifiers. The format is chosen from the file extension and
// falls back to sniffing the zip signature of xlsx files.
func (p *SpreadsheetParser) Parse(ctx context.Context, name string, data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrValidation, "roster", "parse", "roster file is empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(name)); {
	case ext == ".csv":
		rows, err = readCSV(data)
	case ext == ".xlsx" || ext == ".xlsm" || bytes.HasPrefix(data, zipMagic):
		rows, err = readXLSX(data)
	default:
		rows, err = readCSV(data)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "roster", "read", "unreadable roster file "+name, err)
	}

	headerRow, headerCol, ok := p.findHeader(rows)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "roster", "find header",
			"no student number header in the first 50 rows and 20 columns of "+name, nil)
	}
	p.logger.Debug("roster header located",
		logging.Int("row", headerRow+1),
		logging.Int("column", headerCol+1),
		logging.Filename(name),
	)

	ids := extractColumn(rows, headerRow, headerCol)
	if len(ids) == 0 {
		logging.WarnWithContext(p.logger, "roster header found but no identifiers below it", "roster_empty",
			logging.Filename(name),
			logging.String(logging.FieldErrorHint, "check that the student number column holds 8-digit values"),
		)
	}
	return ids, nil
}

func (p *SpreadsheetParser) findHeader(rows [][]string) (int, int, bool) {
	for r := 0; r < len(rows) && r < maxSearchRows; r++ {
		for c := 0; c < len(rows[r]) && c < maxSearchCols; c++ {
			if p.isHeader(rows[r][c]) {
				return r, c, true
			}
		}
	}
	return 0, 0, false
}

func (p *SpreadsheetParser) isHeader(cell string) bool {
	folded := normalizeCell(cell)
	if folded == "" {
		return false
	}
	for _, keyword := range headerKeywords {
		if folded == keyword || containsWord(folded, keyword) {
			return true
		}
	}
	return false
}

// normalizeCell composes Hangul jamo, folds case and drops all whitespace so
// "Student ID" and "학 번" compare equal to their keywords.
func normalizeCell(cell string) string {
	folded := cases.Fold().String(norm.NFC.String(cell))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
}

func containsWord(s, word string) bool {
	for offset := 0; ; {
		idx := strings.Index(s[offset:], word)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(word)
		if !wordRuneBefore(s, start) && !wordRuneAfter(s, end) {
			return true
		}
		offset = start + 1
		if offset >= len(s) {
			return false
		}
	}
}

func wordRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r := []rune(s[:i])
	return isWordRune(r[len(r)-1])
}

func wordRuneAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	for _, r := range s[i:] {
		return isWordRune(r)
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func extractColumn(rows [][]string, headerRow, col int) []string {
	seen := make(map[string]struct{})
	var ids []string
	invalid := 0
	last := min(len(rows), headerRow+1+maxExtractionRows)
	for r := headerRow + 1; r < last; r++ {
		value := ""
		if col < len(rows[r]) {
			value = strings.TrimSpace(rows[r][col])
		}
		if !studentid.IsValidFormat(value) {
			invalid++
			if invalid >= maxConsecutiveErrors {
				break
			}
			continue
		}
		invalid = 0
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		ids = append(ids, value)
	}
	return ids
}
