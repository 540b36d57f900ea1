package main

import (
	"bytes"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiDim   = "\x1b[2m"
	ansiBold  = "\x1b[1m"
	ansiReset = "\x1b[0m"
)

// traceWriter colors VM trace lines when writing to a terminal: the
// "script: PC=..." prefix is dimmed and the rest is bold.
type traceWriter struct {
	w     io.Writer
	color bool
}

func newTraceWriter(f *os.File) io.Writer {
	color := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	return &traceWriter{w: f, color: color}
}

func (t *traceWriter) Write(p []byte) (int, error) {
	if !t.color {
		return t.w.Write(p)
	}
	var buf bytes.Buffer
	for _, line := range bytes.SplitAfter(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		body, nl := bytes.CutSuffix(line, []byte("\n"))
		// Instruction lines read "script: PC=00000000(sym): 01.03   MNEMONIC ...".
		if end := prefixEnd(body); end > 0 {
			buf.WriteString(ansiDim)
			buf.Write(body[:end])
			buf.WriteString(ansiReset + ansiBold)
			buf.Write(body[end:])
			buf.WriteString(ansiReset)
		} else {
			buf.Write(body)
		}
		if nl {
			buf.WriteByte('\n')
		}
	}
	if _, err := t.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// prefixEnd returns the end of the "script: PC=...: " prefix, or 0.
func prefixEnd(line []byte) int {
	i := bytes.Index(line, []byte("PC="))
	if i < 0 {
		return 0
	}
	j := bytes.Index(line[i:], []byte(": "))
	if j < 0 {
		return 0
	}
	return i + j + 2
}
