package propagation

import "math"

// FloorEnergy is the 0 dB reference. Receiver levels never drop below it.
const FloorEnergy = 1.0

// DBToW converts a level in dB(A) to linear energy.
func DBToW(db float64) float64 {
	return math.Pow(10, db/10)
}

// WToDB converts linear energy to a level in dB(A).
func WToDB(w float64) float64 {
	return 10 * math.Log10(w)
}

// Level sums per-band energy and converts the floored total to dB.
func Level(bands []float64) float64 {
	var sum float64
	for _, e := range bands {
		sum += e
	}
	return WToDB(math.Max(sum, FloorEnergy))
}

// octave absorption of air at 20 °C and 70 % relative humidity, dB/km.
var octaveAbsorption = []struct {
	freq, alpha float64
}{
	{63, 0.1},
	{125, 0.4},
	{250, 1.0},
	{500, 1.9},
	{1000, 3.7},
	{2000, 9.7},
	{4000, 32.8},
	{8000, 117},
}

// AbsorptionCoefficient returns the atmospheric absorption for a band
// center frequency in dB per metre. Frequencies between octave centers are
// interpolated on a log-frequency scale; values outside the table are
// clamped to the nearest octave.
func AbsorptionCoefficient(freq float64) float64 {
	tab := octaveAbsorption
	if freq <= tab[0].freq {
		return tab[0].alpha / 1000
	}
	last := tab[len(tab)-1]
	if freq >= last.freq {
		return last.alpha / 1000
	}
	for i := 1; i < len(tab); i++ {
		if freq > tab[i].freq {
			continue
		}
		lo, hi := tab[i-1], tab[i]
		f := math.Log(freq/lo.freq) / math.Log(hi.freq/lo.freq)
		a := math.Exp(math.Log(lo.alpha) + f*(math.Log(hi.alpha)-math.Log(lo.alpha)))
		return a / 1000
	}
	return last.alpha / 1000
}

// attenuation is the linear energy factor of alpha dB/m over distance d.
func attenuation(alpha, d float64) float64 {
	return math.Pow(10, -alpha*d/10)
}
