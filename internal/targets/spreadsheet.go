package targets

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// LoadSpreadsheet reads targets from the first sheet of an .xlsx workbook.
// A missing file yields no targets and no error.
func LoadSpreadsheet(path string) ([]tracker.Target, error) {
	// #nosec G304 -- path comes from configuration.
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open targets workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := readSheetRows(f)
	if err != nil {
		return nil, err
	}
	return FromRows(rows), nil
}

func readSheetRows(r io.Reader) ([][]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse workbook: %w", err)
	}
	defer func() { _ = book.Close() }()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return [][]string{}, nil
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}
