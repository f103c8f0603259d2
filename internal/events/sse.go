package events

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// WriteSSE writes e as one server-sent event:
//
//	event: <type>
//	data: <json>
//
// followed by a blank line.
func WriteSSE(w io.Writer, e Event) error {
	data, err := Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type(), data)
	return err
}

// ReadSSE parses a stream written by WriteSSE. Comment lines and unknown
// fields are ignored; multiple data lines of one event are joined with
// newlines.
func ReadSSE(r io.Reader) ([]Event, error) {
	var (
		out  []Event
		data bytes.Buffer
	)
	flush := func() error {
		if data.Len() == 0 {
			return nil
		}
		e, err := Unmarshal(data.Bytes())
		data.Reset()
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return out, err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("events: read sse: %w", err)
	}
	return out, flush()
}
