package strategies

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func TestParseCSV_HeaderAliasesAndUnnamed(t *testing.T) {
	in := "Unnamed: 0, Date ,Open,High,Low,Close,Volume\n" +
		"0,2024-01-02 10:00:00,2050.1,2052.0,2049.5,2051.2,120\n" +
		"1,2024-01-02 10:15:00,2051.2,2053.4,2050.8,2052.9,98\n"

	bars, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	want := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, want.UnixMilli(), bars[0].Timestamp)
	assert.True(t, bars[0].Open.Equal(d(2050.1)))
	assert.True(t, bars[1].Close.Equal(d(2052.9)))
	assert.True(t, bars[1].Volume.Equal(d(98)))
}

func TestParseCSV_VolumeOptional(t *testing.T) {
	in := "timestamp,open,high,low,close\n" +
		"1704067200000,1,2,0.5,1.5\n"
	bars, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Volume.IsZero())
	assert.Equal(t, int64(1704067200000), bars[0].Timestamp)
}

func TestParseCSV_DropsNonPositivePrices(t *testing.T) {
	in := "datetime,open,high,low,close,volume\n" +
		"2024-01-01 00:00,10,11,9,10,1\n" +
		"2024-01-01 00:15,0,11,9,10,1\n" +
		"2024-01-01 00:30,10,11,9,10.5,1\n"
	bars, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestParseCSV_UTF8BOM(t *testing.T) {
	in := "\xEF\xBB\xBFdatetime,open,high,low,close,volume\n" +
		"2024.01.01 00:00,10,11,9,10,1\n"
	bars, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestParseCSV_UTF16(t *testing.T) {
	plain := "datetime,open,high,low,close,volume\r\n" +
		"2024-01-01T00:00:00Z,10,11,9,10,1\r\n" +
		"2024-01-01T00:15:00Z,10,12,9,11,1\r\n"
	enc, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(plain)
	require.NoError(t, err)

	bars, err := ParseCSV(strings.NewReader(enc))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[1].High.Equal(d(12)))
}

func TestParseCSV_Errors(t *testing.T) {
	cases := map[string]string{
		"missing column":  "datetime,open,high,close\n2024-01-01,1,2,1\n",
		"bad number":      "datetime,open,high,low,close\n2024-01-01,1,x,1,1\n",
		"bad datetime":    "datetime,open,high,low,close\nyesterday,1,2,1,1\n",
		"not increasing":  "datetime,open,high,low,close\n2024-01-02,1,2,1,1\n2024-01-01,1,2,1,1\n",
		"duplicate stamp": "datetime,open,high,low,close\n2024-01-02,1,2,1,1\n2024-01-02,1,2,1,1\n",
		"high below low":  "datetime,open,high,low,close\n2024-01-02,1,1,2,1\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestParseCSV_Empty(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoBars)

	_, err = ParseCSV(strings.NewReader("datetime,open,high,low,close\n"))
	assert.ErrorIs(t, err, ErrNoBars)
}

func TestLoadCSV_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xauusd.csv")
	require.NoError(t, os.WriteFile(path, []byte("datetime,open,high,low,close\n2024-01-01,1,2,1,1\n"), 0o644))

	bars, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestParseDatetime(t *testing.T) {
	want := time.Date(2024, 3, 4, 5, 6, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-03-04T05:06:00Z",
		"2024-03-04 05:06:00",
		"2024-03-04 05:06",
		"2024.03.04 05:06",
		"1709528760",
		"1709528760000",
	} {
		got, err := ParseDatetime(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s -> %s", in, got)
	}
}

func TestDetectCadence(t *testing.T) {
	assert.Equal(t, int64(15*60*1000), DetectCadence(flatBars(10)))
	assert.Zero(t, DetectCadence(flatBars(1)))
}
