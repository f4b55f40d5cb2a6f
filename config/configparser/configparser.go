/*
 * axpcore - Configuration file parser.
 *
 * Copyright 2025, axpcore Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package configparser reads the emulator configuration grammar:
// bracketed section headers (`[System]`, `[Cache-L1Data]`, ...) each
// holding `key = value` lines, scanned rune by rune with a cursor over
// the current line rather than a regex or token slice. Components
// register their section handler on a constructed *Parser, so no
// process-wide mutable registry survives between runs.
package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// SectionHandler receives every key/value pair found under one section
// header, after the section has been fully read. The values arrive as a
// map, so their order in the file is not preserved.
type SectionHandler func(values map[string]string) error

// Parser owns the set of recognized sections for one configuration load.
// Built fresh by whatever assembles the system (cmd/axpcore/main.go), not a
// package-level singleton.
type Parser struct {
	sections map[string]SectionHandler
}

// New builds an empty parser; call Register for each section the caller
// understands before LoadFile.
func New() *Parser {
	return &Parser{sections: make(map[string]SectionHandler)}
}

// Register associates name (case-insensitive) with the handler invoked
// once that section's keys have all been read.
func (p *Parser) Register(name string, fn SectionHandler) {
	p.sections[strings.ToUpper(name)] = fn
}

// optionLine is a cursor over the current line being scanned.
type optionLine struct {
	line string
	pos  int
}

func (l *optionLine) skipSpace() {
	for l.pos < len(l.line) && unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
}

func (l *optionLine) isEOL() bool {
	if l.pos >= len(l.line) {
		return true
	}
	return l.line[l.pos] == '#'
}

func (l *optionLine) getPeek() byte {
	if l.pos+1 >= len(l.line) {
		return 0
	}
	return l.line[l.pos+1]
}

// parseQuoteString reads a bare or double-quoted value starting at the
// current position, stopping at whitespace, '#', or end of line for a bare
// value, or at the closing quote for a quoted one.
func (l *optionLine) parseQuoteString() string {
	l.skipSpace()
	quoted := false
	if l.pos < len(l.line) && l.line[l.pos] == '"' {
		quoted = true
		l.pos++
	}

	start := l.pos
	for l.pos < len(l.line) {
		by := l.line[l.pos]
		if quoted {
			if by == '"' {
				value := l.line[start:l.pos]
				l.pos++
				return value
			}
		} else if unicode.IsSpace(rune(by)) || by == '#' {
			break
		}
		l.pos++
	}
	return l.line[start:l.pos]
}

// parseName reads a bare identifier: letters, digits, '-', and '_'. Used
// for both section names and key names.
func (l *optionLine) parseName() string {
	start := l.pos
	for l.pos < len(l.line) {
		by := l.line[l.pos]
		if unicode.IsLetter(rune(by)) || unicode.IsDigit(rune(by)) || by == '-' || by == '_' {
			l.pos++
			continue
		}
		break
	}
	return l.line[start:l.pos]
}

// parseSectionHeader parses a `[Name]` header; returns "" if the line is
// not a section header.
func (l *optionLine) parseSectionHeader() (string, error) {
	if l.pos >= len(l.line) || l.line[l.pos] != '[' {
		return "", nil
	}
	l.pos++
	name := l.parseName()
	l.skipSpace()
	if l.pos >= len(l.line) || l.line[l.pos] != ']' {
		return "", errors.New("configparser: malformed section header: " + l.line)
	}
	l.pos++
	return name, nil
}

// parseKeyValue parses `key = value`, returning ("", "") on a blank or
// comment-only line.
func (l *optionLine) parseKeyValue() (key, value string, err error) {
	key = l.parseName()
	if key == "" {
		return "", "", nil
	}
	l.skipSpace()
	if l.isEOL() || l.line[l.pos] != '=' {
		return "", "", fmt.Errorf("configparser: key %q not followed by '='", key)
	}
	l.pos++
	value = l.parseQuoteString()
	return key, value, nil
}

// LoadFile reads name and dispatches each section's accumulated key/value
// map to its registered handler once the section closes (on the next
// header line or end of file). An unregistered section name is an error.
func (p *Parser) LoadFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	lineNumber := 0
	currentSection := ""
	currentValues := map[string]string{}

	flush := func() error {
		if currentSection == "" {
			return nil
		}
		fn, ok := p.sections[strings.ToUpper(currentSection)]
		if !ok {
			return fmt.Errorf("configparser: unrecognized section [%s], line %d", currentSection, lineNumber)
		}
		return fn(currentValues)
	}

	for {
		raw, readErr := reader.ReadString('\n')
		lineNumber++
		if len(raw) == 0 && readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return readErr
		}

		l := &optionLine{line: raw}
		l.skipSpace()
		if l.isEOL() {
			if readErr != nil && errors.Is(readErr, io.EOF) {
				break
			}
			continue
		}

		if header, err := l.parseSectionHeader(); err != nil {
			return fmt.Errorf("line %d: %w", lineNumber, err)
		} else if header != "" {
			if err := flush(); err != nil {
				return fmt.Errorf("line %d: %w", lineNumber, err)
			}
			currentSection = header
			currentValues = map[string]string{}
			if readErr != nil && errors.Is(readErr, io.EOF) {
				break
			}
			continue
		}

		key, value, err := l.parseKeyValue()
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNumber, err)
		}
		if key != "" {
			currentValues[key] = value
		}
		if readErr != nil && errors.Is(readErr, io.EOF) {
			break
		}
	}

	return flush()
}
