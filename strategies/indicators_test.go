package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA_ReadyAfterPeriod(t *testing.T) {
	sma := NewSMA(3)
	_, ok := sma.Add(1)
	assert.False(t, ok)
	_, ok = sma.Add(2)
	assert.False(t, ok)
	v, ok := sma.Add(3)
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-12)

	v, ok = sma.Add(10)
	require.True(t, ok)
	assert.InDelta(t, 5.0, v, 1e-12)
}

func TestTrueRange(t *testing.T) {
	assert.Equal(t, 2.0, TrueRange(101, 99, 100))
	assert.Equal(t, 5.0, TrueRange(105, 103, 100))
	assert.Equal(t, 6.0, TrueRange(99, 97, 103))
}

func TestATR_FirstBarUsesHighLow(t *testing.T) {
	atr := NewATR(2)
	_, ok := atr.Add(110, 100, 105)
	assert.False(t, ok)
	// TR = max(2, |107-105|, |105-105|) = 2
	v, ok := atr.Add(107, 105, 106)
	require.True(t, ok)
	assert.InDelta(t, 6.0, v, 1e-12)
}

func TestKeltnerChannel_Bands(t *testing.T) {
	kc := NewKeltnerChannel(3, 2, 2.0)
	assert.Equal(t, 3, kc.WarmupBars())

	var st IndicatorState
	for i := 0; i < 3; i++ {
		st = kc.Add(mkBar(i, 100, 101, 99, 100))
		if i < 2 {
			assert.False(t, st.Ready, "bar %d", i)
		}
	}
	require.True(t, st.Ready)
	assert.InDelta(t, 100.0, st.SMA, 1e-12)
	assert.InDelta(t, 2.0, st.ATR, 1e-12)
	assert.InDelta(t, 104.0, st.Upper, 1e-12)
	assert.InDelta(t, 96.0, st.Lower, 1e-12)
}

func TestKeltnerChannel_ReadyNeedsBothWindows(t *testing.T) {
	kc := NewKeltnerChannel(2, 4, 1.5)
	var st IndicatorState
	for i := 0; i < 3; i++ {
		st = kc.Add(mkBar(i, 100, 101, 99, 100))
	}
	assert.False(t, st.Ready)
	st = kc.Add(mkBar(3, 100, 101, 99, 100))
	assert.True(t, st.Ready)
}
