package marketdata

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"cryptotrader/internal/model"
)

const parquetReadBatch = 256

// parquetColumns maps the file's leaf columns onto the names buildIndex
// understands. Columns outside d.Columns are blanked so they are never read.
func (d Dataset) parquetColumns(schema *parquet.Schema) ([]string, error) {
	paths := schema.Columns()
	header := make([]string, len(paths))
	for i, path := range paths {
		header[i] = strings.Join(path, ".")
	}
	if len(d.Columns) == 0 {
		return header, nil
	}

	keep := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		keep[strings.ToLower(strings.TrimSpace(c))] = true
	}
	for i, name := range header {
		if keep[strings.ToLower(name)] {
			delete(keep, strings.ToLower(name))
		} else {
			header[i] = ""
		}
	}
	if len(keep) > 0 {
		missing := make([]string, 0, len(keep))
		for name := range keep {
			missing = append(missing, name)
		}
		return nil, fmt.Errorf("dataset has no column(s) %s", strings.Join(missing, ", "))
	}
	return header, nil
}

// timestampUnit returns the resolution of an integer timestamp column, or 0
// when the column carries no TIMESTAMP logical type.
func timestampUnit(schema *parquet.Schema, path string) time.Duration {
	leaf, ok := schema.Lookup(strings.Split(path, ".")...)
	if !ok {
		return 0
	}
	lt := leaf.Node.Type().LogicalType()
	if lt == nil || lt.Timestamp == nil {
		return 0
	}
	switch unit := lt.Timestamp.Unit; {
	case unit.Nanos != nil:
		return time.Nanosecond
	case unit.Micros != nil:
		return time.Microsecond
	default:
		return time.Millisecond
	}
}

func (d Dataset) loadParquet(f *os.File) ([]model.Candle, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat dataset: %w", err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path, err)
	}

	header, err := d.parquetColumns(pf.Schema())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path, err)
	}
	idx, err := buildIndex(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path, err)
	}
	tsUnit := timestampUnit(pf.Schema(), header[idx.ts])

	out := make([]model.Candle, 0, int(pf.NumRows()))
	vals := make([]parquet.Value, len(header))
	buf := make([]parquet.Row, parquetReadBatch)
	row := 0
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, r := range buf[:n] {
				row++
				for i := range vals {
					vals[i] = parquet.Value{}
				}
				for _, v := range r {
					if c := v.Column(); c >= 0 && c < len(vals) {
						vals[c] = v
					}
				}
				c, perr := parquetCandle(vals, idx, tsUnit)
				if perr != nil {
					rows.Close()
					return nil, fmt.Errorf("%s row %d: %w", d.Path, row, perr)
				}
				d.stamp(&c)
				out = append(out, c)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("%s: %w", d.Path, err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Path, err)
		}
	}
	return out, nil
}

func parquetCandle(vals []parquet.Value, idx columnIndex, tsUnit time.Duration) (model.Candle, error) {
	var c model.Candle
	ts, err := parquetTime(vals[idx.ts], tsUnit)
	if err != nil {
		return c, err
	}
	c.TS = ts

	if c.Close, err = parquetFloat(vals[idx.close], "close"); err != nil {
		return c, err
	}
	c.Open, c.High, c.Low = c.Close, c.Close, c.Close
	for _, f := range []struct {
		col  int
		name string
		dst  *float64
	}{
		{idx.open, "open", &c.Open},
		{idx.high, "high", &c.High},
		{idx.low, "low", &c.Low},
		{idx.volume, "volume", &c.Volume},
	} {
		if f.col < 0 {
			continue
		}
		if *f.dst, err = parquetFloat(vals[f.col], f.name); err != nil {
			return c, err
		}
	}
	if idx.symbol >= 0 && !vals[idx.symbol].IsNull() {
		c.Symbol = strings.TrimSpace(string(vals[idx.symbol].ByteArray()))
	}
	return c, nil
}

func parquetFloat(v parquet.Value, name string) (float64, error) {
	var f float64
	switch v.Kind() {
	case parquet.Int32:
		f = float64(v.Int32())
	case parquet.Int64:
		f = float64(v.Int64())
	case parquet.Float:
		f = float64(v.Float())
	case parquet.Double:
		f = v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		s := strings.TrimSpace(string(v.ByteArray()))
		var err error
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, fmt.Errorf("bad %s %q", name, s)
		}
	default:
		return 0, fmt.Errorf("bad %s: %s value", name, kindName(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("bad %s %v", name, f)
	}
	return f, nil
}

// parquetTime reads TIMESTAMP columns in their declared unit. Plain numbers
// and strings follow ParseTimestamp.
func parquetTime(v parquet.Value, unit time.Duration) (time.Time, error) {
	switch v.Kind() {
	case parquet.Int32, parquet.Int64:
		n := v.Int64()
		if v.Kind() == parquet.Int32 {
			n = int64(v.Int32())
		}
		switch unit {
		case time.Nanosecond:
			return time.Unix(0, n).UTC(), nil
		case time.Microsecond:
			return time.UnixMicro(n).UTC(), nil
		case time.Millisecond:
			return time.UnixMilli(n).UTC(), nil
		}
		return ParseTimestamp(strconv.FormatInt(n, 10))
	case parquet.Float, parquet.Double:
		f := v.Double()
		if v.Kind() == parquet.Float {
			f = float64(v.Float())
		}
		return ParseTimestamp(strconv.FormatFloat(f, 'f', -1, 64))
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return ParseTimestamp(string(v.ByteArray()))
	}
	return time.Time{}, fmt.Errorf("bad timestamp: %s value", kindName(v))
}

func kindName(v parquet.Value) string {
	if v.IsNull() {
		return "null"
	}
	return v.Kind().String()
}
