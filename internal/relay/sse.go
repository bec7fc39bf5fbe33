package relay

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DoneSentinel is the data payload that ends a stream.
const DoneSentinel = "[DONE]"

// ReadEvents splits an event stream into records at blank lines and calls
// onData with the record's data lines joined by "\n". Records without data
// lines are skipped, as is an unterminated record at end of input. CRLF line
// endings are accepted. Reading stops early when onData returns false.
func ReadEvents(r io.Reader, onData func(data string) bool) error {
	br := bufio.NewReader(r)
	var data []string
	hasData := false

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 || err == nil {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			if line == "" && err == nil {
				if hasData {
					if !onData(strings.TrimSpace(strings.Join(data, "\n"))) {
						return nil
					}
				}
				data = data[:0]
				hasData = false
			} else if strings.HasPrefix(line, "data:") {
				data = append(data, strings.TrimLeft(line[len("data:"):], " \t"))
				hasData = true
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
