package tables

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

const readBatch = 8192

// readParquet reads every row of a Parquet file into T after checking the
// file schema carries the table's required columns. Columns are matched by
// name; extra columns are ignored.
func readParquet[T any](path, table string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	for _, col := range requiredColumns[table] {
		if _, ok := pf.Schema().Lookup(col); !ok {
			return nil, &MissingColumnError{Table: table, Column: col}
		}
	}

	reader := parquet.NewGenericReader[T](f)
	defer reader.Close()

	out := make([]T, 0, reader.NumRows())
	buf := make([]T, readBatch)
	for {
		// rows keep pointers into buf, so hand the reader zeroed rows
		clear(buf)
		n, readErr := reader.Read(buf)
		out = append(out, buf[:n]...)
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return nil, fmt.Errorf("read parquet %s: %w", path, readErr)
		}
	}
	return out, nil
}
