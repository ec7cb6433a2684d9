package stream

import (
	"bufio"
	"io"
	"strings"
)

// frame is one parsed server-sent event: `event:` and `id:` fields plus
// the accumulated `data:` payload. Events are terminated by a blank line.
type frame struct {
	event string
	id    string
	data  string
}

// frameReader incrementally parses the text/event-stream framing from a
// stream body. It handles multi-line data fields, comment lines, and
// both "field: value" and "field:value" forms.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// Next reads frames until one with a non-empty data payload is complete,
// returning io errors from the underlying stream as-is. Comment lines
// and empty frames (keep-alives) are skipped.
func (fr *frameReader) Next() (*frame, error) {
	var (
		cur  frame
		data []string
	)

	for {
		line, err := fr.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Dispatch boundary.
			if len(data) > 0 {
				cur.data = strings.Join(data, "\n")
				return &cur, nil
			}
			cur = frame{}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			field, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			cur.event = value
		case "id":
			cur.id = value
		case "data":
			data = append(data, value)
		}
		// Unknown fields are ignored per the SSE contract.
	}
}
