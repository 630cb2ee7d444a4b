// Package amm prices trades against a subnet's constant-product pool.
//
// A pool holds two reserves: alpha (the subnet token) and tao. Price is quoted
// as tao per alpha. Slippage is the shortfall between the output at the quoted
// price and the output that keeps alphaIn * taoIn constant; it is never negative.
package amm

// Pool is the reserve state a trade is priced against.
type Pool struct {
	AlphaIn float64
	TaoIn   float64
	Price   float64
	// Dynamic selects the constant-product model. A static pool trades at Price.
	Dynamic bool
}

// Quote is the result of pricing a trade.
type Quote struct {
	Out      float64
	Slippage float64
}

// AlphaToTao returns the tao received for selling alphaAmount into the pool.
func AlphaToTao(alphaAmount, alphaIn, taoIn, price float64, dynamic bool) (float64, float64) {
	ideal := alphaAmount * price
	if !dynamic {
		return ideal, 0
	}
	k := taoIn * alphaIn
	newAlphaIn := alphaIn + alphaAmount
	if k == 0 || newAlphaIn == 0 {
		return ideal, 0
	}
	taoOut := taoIn - k/newAlphaIn
	return taoOut, shortfall(ideal, taoOut)
}

// TaoToAlpha returns the alpha received for buying with taoAmount.
// A zero price yields zero output rather than dividing by zero.
func TaoToAlpha(taoAmount, alphaIn, taoIn, price float64, dynamic bool) (float64, float64) {
	ideal := 0.0
	if price != 0 {
		ideal = taoAmount / price
	}
	if !dynamic {
		return ideal, 0
	}
	k := taoIn * alphaIn
	newTaoIn := taoIn + taoAmount
	if k == 0 || newTaoIn == 0 {
		return ideal, 0
	}
	alphaOut := alphaIn - k/newTaoIn
	return alphaOut, shortfall(ideal, alphaOut)
}

// Sell prices an alpha sale against p.
func (p Pool) Sell(alphaAmount float64) Quote {
	out, slip := AlphaToTao(alphaAmount, p.AlphaIn, p.TaoIn, p.Price, p.Dynamic)
	return Quote{Out: out, Slippage: slip}
}

// Buy prices an alpha purchase paid in tao against p.
func (p Pool) Buy(taoAmount float64) Quote {
	out, slip := TaoToAlpha(taoAmount, p.AlphaIn, p.TaoIn, p.Price, p.Dynamic)
	return Quote{Out: out, Slippage: slip}
}

// shortfall clamps favorable execution to zero.
func shortfall(ideal, actual float64) float64 {
	if s := ideal - actual; s > 0 {
		return s
	}
	return 0
}
