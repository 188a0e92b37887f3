package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frame delimiter lines.
const (
	FrameStart = "START"
	FrameStop  = "STOP"
)

// Limits constrains frame decode memory use.
type Limits struct {
	MaxBodyBytes int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes: 8 * 1024 * 1024,
	}
}

// MarshalFrame serializes m to a YAML body wrapped in START/STOP lines.
// Key order in the body is not significant.
func MarshalFrame(m map[string]any) ([]byte, error) {
	var body bytes.Buffer
	enc := yaml.NewEncoder(&body)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode frame body: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode frame body: %w", err)
	}

	out := make([]byte, 0, body.Len()+len(FrameStart)+len(FrameStop)+3)
	out = append(out, FrameStart+"\n"...)
	out = append(out, body.Bytes()...)
	if body.Len() > 0 && body.Bytes()[body.Len()-1] != '\n' {
		out = append(out, '\n')
	}
	out = append(out, FrameStop+"\n"...)
	return out, nil
}

// EncodeFrame writes m as a single frame to w with one Write call.
func EncodeFrame(w io.Writer, m map[string]any) error {
	data, err := MarshalFrame(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// maxStartLine bounds the first line of a frame. Anything longer cannot be START.
const maxStartLine = 256

var errLineTooLong = errors.New("line too long")

// DecodeFrame reads exactly one frame from r and parses its body into a mapping.
//
// The first line read must be START; lines are accumulated until a line equal
// to STOP. No line is buffered past the remaining body budget. A stream that
// is already at EOF yields a MalformedMessage error that also matches io.EOF.
func DecodeFrame(r *bufio.Reader, limits Limits) (map[string]any, error) {
	first, err := readLine(r, maxStartLine)
	if errors.Is(err, errLineTooLong) {
		return nil, malformed(fmt.Sprintf("expected %s line, got a line over %d bytes", FrameStart, maxStartLine), nil)
	}
	if err != nil && first == "" {
		if errors.Is(err, io.EOF) {
			return nil, malformed("stream closed before "+FrameStart, io.EOF)
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	if trimLine(first) != FrameStart {
		return nil, malformed(fmt.Sprintf("expected %s line, got %q", FrameStart, truncate(trimLine(first), 64)), nil)
	}

	var body bytes.Buffer
	for {
		line, err := readLine(r, bodyLineLimit(limits, body.Len()))
		if errors.Is(err, errLineTooLong) {
			return nil, malformed(fmt.Sprintf("frame body exceeds %d bytes", limits.MaxBodyBytes), nil)
		}
		if trimLine(line) == FrameStop {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, malformed("missing "+FrameStop+" line", io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}
		if limits.MaxBodyBytes > 0 && body.Len()+len(line) > limits.MaxBodyBytes {
			return nil, malformed(fmt.Sprintf("frame body exceeds %d bytes", limits.MaxBodyBytes), nil)
		}
		body.WriteString(line)
	}

	var m map[string]any
	if err := yaml.Unmarshal(body.Bytes(), &m); err != nil {
		return nil, malformed("body is not a mapping", err)
	}
	if m == nil {
		return nil, malformed("empty frame body", nil)
	}
	return m, nil
}

// bodyLineLimit returns how long the next body line may be: the remaining
// body budget, but never too short for a STOP line. Zero means unbounded.
func bodyLineLimit(limits Limits, used int) int {
	if limits.MaxBodyBytes <= 0 {
		return 0
	}
	remaining := limits.MaxBodyBytes - used
	if stop := len(FrameStop) + 2; remaining < stop {
		remaining = stop
	}
	return remaining
}

// readLine reads up to and including the next newline, failing with
// errLineTooLong once more than max bytes have been consumed. A max of zero
// means no bound.
func readLine(r *bufio.Reader, max int) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if max > 0 && len(line)+len(chunk) > max {
			return "", errLineTooLong
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(line), err
	}
}

// trimLine drops the line terminator, tolerating CRLF.
func trimLine(line string) string {
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}

// truncate shortens a string for error messages.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
