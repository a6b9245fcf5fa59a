package indicator

// Bollinger tracks Bollinger Bands: an SMA middle band with upper and lower
// bands width standard deviations away.
type Bollinger struct {
	sma   *SMA
	width float64
}

// NewBollinger creates bands over period closes, width deviations wide.
func NewBollinger(period int, width float64) *Bollinger {
	return &Bollinger{sma: NewSMA(period), width: width}
}

func (b *Bollinger) Name() string         { return "BB" }
func (b *Bollinger) Update(price float64) { b.sma.Update(price) }
func (b *Bollinger) Ready() bool          { return b.sma.Ready() }
func (b *Bollinger) Reset()               { b.sma.Reset() }

// Value returns the middle band.
func (b *Bollinger) Value() float64 { return b.sma.Value() }

// Bands returns the upper, middle and lower band.
func (b *Bollinger) Bands() (upper, middle, lower float64) {
	middle = b.sma.Value()
	d := b.width * b.sma.StdDev()
	return middle + d, middle, middle - d
}
