package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"fpe_random_id/common"
	"fpe_random_id/randomid"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "randomid",
		Usage: "Draw fixed-width decimal IDs in a keyed random order",
		Commands: []*cli.Command{
			keygenCommand(),
			generateCommand(),
			countCommand(),
			resolveCommand(),
		},
	}
}

func sequenceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "key",
			Aliases: []string{"k"},
			Usage:   "base64 32-byte key",
			EnvVars: []string{"RANDOM_ID_KEY_BASE64"},
		},
		&cli.Uint64Flag{
			Name:    "tweak",
			Aliases: []string{"t"},
			Usage:   "tweak, encoded as 8 big-endian bytes",
		},
		&cli.IntFlag{
			Name:    "digits",
			Aliases: []string{"d"},
			Value:   6,
			Usage:   "id width in decimal digits (2-9)",
		},
	}
}

// openSequence builds a sequence from the shared flags. The caller closes it.
func openSequence(c *cli.Context) (*randomid.Sequence, error) {
	kb64 := c.String("key")
	if kb64 == "" {
		return nil, errors.New("--key or RANDOM_ID_KEY_BASE64 is required")
	}
	key, err := common.DecodeBase64Key(kb64)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	defer clear(key)
	return randomid.New(key, randomid.TweakFromUint64(c.Uint64("tweak")), c.Int("digits"))
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Print a random 32-byte key, base64 encoded",
		Action: func(c *cli.Context) error {
			key := make([]byte, randomid.KeySize)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("read random: %w", err)
			}
			defer clear(key)
			fmt.Fprintln(c.App.Writer, base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:    "generate",
		Aliases: []string{"gen"},
		Usage:   "Print ids from the start of the sequence",
		Flags: append(sequenceFlags(),
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 10, Usage: "how many ids to print (0 = all remaining)"},
			&cli.IntFlag{Name: "skip", Usage: "positions to skip before the first id"},
			&cli.BoolFlag{Name: "zero-pad", Usage: "pad ids with leading zeros to --digits"},
			&cli.BoolFlag{Name: "with-index", Usage: "print the sequence index before each id"},
		),
		Action: func(c *cli.Context) error {
			seq, err := openSequence(c)
			if err != nil {
				return err
			}
			defer seq.Close()

			count := c.Int("count")
			if count < 0 {
				return errors.New("--count must not be negative")
			}
			if count == 0 {
				count = seq.Remaining()
			}

			emit := func(idx, v uint32) {
				id := fmt.Sprint(v)
				if c.Bool("zero-pad") {
					id = fmt.Sprintf("%0*d", seq.Width(), v)
				}
				if c.Bool("with-index") {
					fmt.Fprintf(c.App.Writer, "%d\t%s\n", idx, id)
					return
				}
				fmt.Fprintln(c.App.Writer, id)
			}

			if skip := c.Int("skip"); skip > 0 && count > 0 {
				idx := seq.Position() + uint32(skip)
				v, ok, err := seq.Nth(skip)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				emit(idx, v)
				count--
			}

			for ; count > 0; count-- {
				idx := seq.Position()
				v, ok, err := seq.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				emit(idx, v)
			}
			return nil
		},
	}
}

func countCommand() *cli.Command {
	return &cli.Command{
		Name:  "count",
		Usage: "Print how many ids remain after --skip positions",
		Flags: append(sequenceFlags(),
			&cli.IntFlag{Name: "skip", Usage: "positions already consumed"},
		),
		Action: func(c *cli.Context) error {
			seq, err := openSequence(c)
			if err != nil {
				return err
			}
			defer seq.Close()

			remaining := seq.Count() - c.Int("skip")
			fmt.Fprintln(c.App.Writer, max(remaining, 0))
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Print the sequence index that produces --value",
		Flags: append(sequenceFlags(),
			&cli.Uint64Flag{Name: "value", Aliases: []string{"v"}, Required: true},
		),
		Action: func(c *cli.Context) error {
			seq, err := openSequence(c)
			if err != nil {
				return err
			}
			defer seq.Close()

			v := c.Uint64("value")
			if v >= uint64(seq.Size()) {
				return fmt.Errorf("value %d does not fit %d digits", v, seq.Width())
			}
			idx, err := seq.Index(uint32(v))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, idx)
			return nil
		},
	}
}
