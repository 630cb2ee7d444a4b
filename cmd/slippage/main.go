package main

import (
	"fmt"
	"io"
	"os"

	"github.com/canopy-network/subnetx/pkg/amm"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "slippage",
		Usage: "Quote trades against a constant-product subnet pool",
		Commands: []*cli.Command{
			{
				Name:   "sell",
				Usage:  "Sell alpha for tao",
				Flags:  poolFlags(),
				Action: quote(out, "tao", amm.Pool.Sell),
			},
			{
				Name:   "buy",
				Usage:  "Buy alpha with tao",
				Flags:  poolFlags(),
				Action: quote(out, "alpha", amm.Pool.Buy),
			},
		},
	}
}

func poolFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:     "amount",
			Aliases:  []string{"a"},
			Usage:    "The amount being traded in",
			Required: true,
		},
		&cli.Float64Flag{
			Name:    "alpha-in",
			Usage:   "The pool's alpha reserve",
			EnvVars: []string{"POOL_ALPHA_IN"},
		},
		&cli.Float64Flag{
			Name:    "tao-in",
			Usage:   "The pool's tao reserve",
			EnvVars: []string{"POOL_TAO_IN"},
		},
		&cli.Float64Flag{
			Name:     "price",
			Aliases:  []string{"p"},
			Usage:    "The reference price in tao per alpha",
			EnvVars:  []string{"POOL_PRICE"},
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "static",
			Usage: "Quote at the reference price, ignoring the reserves",
		},
	}
}

func quote(out io.Writer, unit string, trade func(amm.Pool, float64) amm.Quote) cli.ActionFunc {
	return func(c *cli.Context) error {
		amount := c.Float64("amount")
		if amount < 0 {
			return fmt.Errorf("amount must not be negative, got %v", amount)
		}
		pool := amm.Pool{
			AlphaIn: c.Float64("alpha-in"),
			TaoIn:   c.Float64("tao-in"),
			Price:   c.Float64("price"),
			Dynamic: !c.Bool("static"),
		}
		q := trade(pool, amount)
		_, err := fmt.Fprintf(out, "out=%.9f %s slippage=%.9f %s\n", q.Out, unit, q.Slippage, unit)
		return err
	}
}
