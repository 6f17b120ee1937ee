package strategies

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNoBars is returned when an input yields no usable bars.
var ErrNoBars = errors.New("no bars loaded")

var columnAliases = map[string]string{
	"timestamp": "datetime",
	"date":      "datetime",
	"time":      "datetime",
}

var requiredColumns = []string{"datetime", "open", "high", "low", "close"}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02",
}

// LoadCSV reads bars from a CSV file on disk.
func LoadCSV(filename string) ([]Bar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	bars, err := ParseCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return bars, nil
}

// ParseCSV reads a headed OHLCV CSV. Rows with a non-positive price are dropped; any
// other malformed row, or timestamps that do not strictly increase, fail the whole load.
func ParseCSV(r io.Reader) ([]Bar, error) {
	br := bufio.NewReader(r)
	// UTF-16 exports (MT4/MT5) carry a BOM; decode them to UTF-8
	if b, _ := br.Peek(2); len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		br = bufio.NewReader(transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()))
	} else if b, _ := br.Peek(3); len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoBars
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, 1_000)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if isBlank(rec) {
			continue
		}

		bar, ok, err := parseRecord(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !ok {
			continue
		}
		if n := len(bars); n > 0 && bar.Timestamp <= bars[n-1].Timestamp {
			return nil, fmt.Errorf("line %d: timestamp %s not after %s", line,
				bar.Time().Format(time.RFC3339), bars[n-1].Time().Format(time.RFC3339))
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	return bars, nil
}

func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if name == "" || strings.Contains(name, "unnamed") {
			continue
		}
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRecord(rec []string, cols map[string]int) (Bar, bool, error) {
	field := func(name string) (string, error) {
		i, ok := cols[name]
		if !ok {
			return "", nil
		}
		if i >= len(rec) {
			return "", fmt.Errorf("missing %s field", name)
		}
		return strings.TrimSpace(strings.Trim(rec[i], `"`)), nil
	}
	number := func(name string) (decimal.Decimal, error) {
		s, err := field(name)
		if err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid %s %q", name, s)
		}
		return d, nil
	}

	ts, err := field("datetime")
	if err != nil {
		return Bar{}, false, err
	}
	t, err := ParseDatetime(ts)
	if err != nil {
		return Bar{}, false, err
	}

	var bar Bar
	bar.Timestamp = t.UnixMilli()
	if bar.Open, err = number("open"); err != nil {
		return Bar{}, false, err
	}
	if bar.High, err = number("high"); err != nil {
		return Bar{}, false, err
	}
	if bar.Low, err = number("low"); err != nil {
		return Bar{}, false, err
	}
	if bar.Close, err = number("close"); err != nil {
		return Bar{}, false, err
	}
	if _, ok := cols["volume"]; ok {
		if v, err := number("volume"); err == nil && v.Sign() > 0 {
			bar.Volume = v
		}
	}

	if bar.Open.Sign() <= 0 || bar.High.Sign() <= 0 || bar.Low.Sign() <= 0 || bar.Close.Sign() <= 0 {
		return Bar{}, false, nil
	}
	if bar.High.LessThan(bar.Low) {
		return Bar{}, false, fmt.Errorf("high %s below low %s", bar.High, bar.Low)
	}
	return bar, true, nil
}

// ParseDatetime accepts the common export layouts or unix seconds / milliseconds.
// Values without a zone are taken as UTC.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 100_000_000_000 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", s)
}

// DetectCadence returns the most common positive delta between the first bars, in ms.
func DetectCadence(bars []Bar) int64 {
	if len(bars) < 2 {
		return 0
	}
	deltaCount := make(map[int64]int)
	limit := len(bars)
	if limit > 2000 {
		limit = 2000
	}
	for i := 1; i < limit; i++ {
		if d := bars[i].Timestamp - bars[i-1].Timestamp; d > 0 {
			deltaCount[d]++
		}
	}
	var best int64
	bestCount := 0
	for d, c := range deltaCount {
		if c > bestCount || (c == bestCount && d < best) {
			best, bestCount = d, c
		}
	}
	return best
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
