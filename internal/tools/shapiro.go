package tools

import (
	"fmt"
	"math"
	"sort"
)

// shapiroWilk computes the Shapiro-Wilk W statistic and its p-value for
// 3 <= n <= 5000, following Royston's AS R94 algorithm.
func shapiroWilk(xs []float64) (w, p float64, err error) {
	n := len(xs)
	if n < 3 || n > 5000 {
		return 0, 0, fmt.Errorf("shapiro-wilk requires 3 <= n <= 5000, got %d", n)
	}
	x := append([]float64(nil), xs...)
	sort.Float64s(x)
	if x[n-1]-x[0] == 0 {
		return 0, 0, fmt.Errorf("shapiro-wilk requires non-constant data")
	}

	// Expected normal order statistics for the lower half.
	half := n / 2
	an25 := float64(n) + 0.25
	m := make([]float64, half)
	var summ2 float64
	for i := 0; i < half; i++ {
		m[i] = normPPF((float64(i+1) - 0.375) / an25)
		summ2 += m[i] * m[i]
	}
	summ2 *= 2
	ssumm2 := math.Sqrt(summ2)
	rsn := 1 / math.Sqrt(float64(n))

	c1 := [6]float64{0, 0.221157, -0.147981, -2.071190, 4.434685, -2.706056}
	c2 := [6]float64{0, 0.042981, -0.293762, -1.752461, 5.682633, -3.582633}

	a := make([]float64, half)
	a1 := poly(c1[:], rsn) - m[0]/ssumm2
	start := 1
	var fac float64
	if n > 5 {
		start = 2
		a2 := poly(c2[:], rsn) - m[1]/ssumm2
		fac = math.Sqrt((summ2 - 2*m[0]*m[0] - 2*m[1]*m[1]) / (1 - 2*a1*a1 - 2*a2*a2))
		a[1] = a2
	} else {
		fac = math.Sqrt((summ2 - 2*m[0]*m[0]) / (1 - 2*a1*a1))
	}
	a[0] = a1
	for i := start; i < half; i++ {
		a[i] = -m[i] / fac
	}

	// W = (Σ a_i (x_{n-i} − x_i))² / Σ (x_j − mean)².
	mu := mean(x)
	var ssq float64
	for _, v := range x {
		d := v - mu
		ssq += d * d
	}
	var num float64
	for i := 0; i < half; i++ {
		num += a[i] * (x[n-1-i] - x[i])
	}
	w = num * num / ssq
	if w > 1 {
		w = 1
	}

	p = shapiroPValue(w, n)
	return w, p, nil
}

func shapiroPValue(w float64, n int) float64 {
	if n == 3 {
		const pi6 = 1.90985931710274  // 6/pi
		const stqr = 1.04719755119660 // asin(sqrt(3/4))
		p := pi6 * (math.Asin(math.Sqrt(w)) - stqr)
		return math.Min(math.Max(p, 0), 1)
	}
	an := float64(n)
	y := math.Log1p(-w)
	var mu, sigma float64
	if n <= 11 {
		gamma := poly([]float64{-2.273, 0.459}, an)
		y = -math.Log(gamma - y)
		mu = poly([]float64{0.5440, -0.39978, 0.025054, -6.714e-4}, an)
		sigma = math.Exp(poly([]float64{1.3822, -0.77857, 0.062767, -0.0020322}, an))
	} else {
		ln := math.Log(an)
		mu = poly([]float64{-1.5861, -0.31082, -0.083751, 0.0038915}, ln)
		sigma = math.Exp(poly([]float64{-0.4803, -0.082676, 0.0030302}, ln))
	}
	z := (y - mu) / sigma
	return 1 - normCDF(z)
}

func poly(c []float64, x float64) float64 {
	res := c[0]
	pow := 1.0
	for _, coef := range c[1:] {
		pow *= x
		res += coef * pow
	}
	return res
}
