package strategies

import "math"

// ringBuffer is a fixed-capacity FIFO of float64 that overwrites the oldest value.
type ringBuffer struct {
	buf    []float64
	start  int
	length int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]float64, capacity)}
}

func (r *ringBuffer) Push(v float64) {
	if r.length < len(r.buf) {
		r.buf[(r.start+r.length)%len(r.buf)] = v
		r.length++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ringBuffer) Len() int   { return r.length }
func (r *ringBuffer) Full() bool { return r.length == len(r.buf) }

// Mean sums the window in insertion order so results do not depend on history length.
func (r *ringBuffer) Mean() float64 {
	if r.length == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < r.length; i++ {
		sum += r.buf[(r.start+i)%len(r.buf)]
	}
	return sum / float64(r.length)
}

// SMA is a simple moving average over the last Period values.
type SMA struct {
	Period int
	window *ringBuffer
}

func NewSMA(period int) *SMA {
	if period <= 0 {
		period = 20
	}
	return &SMA{Period: period, window: newRingBuffer(period)}
}

// Add pushes a value and returns the average and whether the window is full.
func (s *SMA) Add(v float64) (float64, bool) {
	s.window.Push(v)
	return s.Value()
}

func (s *SMA) Value() (float64, bool) {
	if !s.window.Full() {
		return 0, false
	}
	return s.window.Mean(), true
}

// ATR is the simple average of True Range over Period bars.
// The first bar has no previous close, so its TR is high-low.
type ATR struct {
	Period    int
	window    *ringBuffer
	prevClose float64
	seeded    bool
}

func NewATR(period int) *ATR {
	if period <= 0 {
		period = 14
	}
	return &ATR{Period: period, window: newRingBuffer(period)}
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if d := math.Abs(high - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

func (a *ATR) Add(high, low, close float64) (float64, bool) {
	tr := high - low
	if a.seeded {
		tr = TrueRange(high, low, a.prevClose)
	}
	a.prevClose = close
	a.seeded = true
	a.window.Push(tr)
	return a.Value()
}

func (a *ATR) Value() (float64, bool) {
	if !a.window.Full() {
		return 0, false
	}
	return a.window.Mean(), true
}

// bands is what the generator reads from its channel
type bands interface {
	Add(bar Bar) IndicatorState
}

// KeltnerChannel combines the close SMA and ATR into bands of SMA ± Multiplier×ATR.
type KeltnerChannel struct {
	Multiplier float64
	sma        *SMA
	atr        *ATR
}

func NewKeltnerChannel(smaPeriod, atrPeriod int, multiplier float64) *KeltnerChannel {
	return &KeltnerChannel{
		Multiplier: multiplier,
		sma:        NewSMA(smaPeriod),
		atr:        NewATR(atrPeriod),
	}
}

// Add feeds one bar and returns the state including the bar.
func (k *KeltnerChannel) Add(bar Bar) IndicatorState {
	high := bar.High.InexactFloat64()
	low := bar.Low.InexactFloat64()
	close := bar.Close.InexactFloat64()

	sma, smaOK := k.sma.Add(close)
	atr, atrOK := k.atr.Add(high, low, close)

	st := IndicatorState{SMA: sma, ATR: atr, Ready: smaOK && atrOK}
	if st.Ready {
		st.Upper = sma + k.Multiplier*atr
		st.Lower = sma - k.Multiplier*atr
	}
	return st
}

// WarmupBars is the number of bars needed before the channel is defined.
func (k *KeltnerChannel) WarmupBars() int {
	if k.sma.Period > k.atr.Period {
		return k.sma.Period
	}
	return k.atr.Period
}
