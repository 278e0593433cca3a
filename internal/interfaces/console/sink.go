package console

import (
	"fmt"
	"time"

	"pricemux/internal/application/port"
)

type Sink struct{}

func NewSink() port.Sink { return &Sink{} }

func (s *Sink) WriteLive(line string) error {
	fmt.Print(line) // carriage-return overwrite, no newline
	return nil
}

// WriteSnapshot prints a timestamped history line with a blank spacer; the
// live line redraws on the next tick cycle.
func (s *Sink) WriteSnapshot(ts time.Time, line string) error {
	fmt.Print("\n")
	fmt.Printf("%s %s\n", ts.Format("2006-01-02 15:04:05"), line)
	fmt.Print("\n")
	return nil
}

func (s *Sink) NewLine() error {
	fmt.Print("\n")
	return nil
}
