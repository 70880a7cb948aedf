package buttons

import (
	"bufio"
	"context"
	"io"
)

// ReadKeys latches a press for every digit 1-8 read from r, one line at a
// time, until r is exhausted or ctx is done. Other characters are ignored.
func ReadKeys(ctx context.Context, r io.Reader, flags *Flags) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, c := range scanner.Text() {
			if c >= '1' && c <= '8' {
				flags.Press(Button(c - '0'))
			}
		}
	}
	return scanner.Err()
}
