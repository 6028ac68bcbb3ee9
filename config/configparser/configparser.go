/*
 * Astra64 - Machine configuration file parser.
 *
 * Copyright 2024, Richard Cornwell
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

package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <model> <whitespace> <unit> *(<option>) |
 *           <directive> <whitespace> <argument> *(<option>) |
 *           <switch>
 * <model> := <string>
 * <unit> ::= <number>
 * <option> ::= <string> | <string> '=' <quoteopt>
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 * <string> ::= *(<letter> | <number> | <punct>)
 */

// One option after the argument, NAME or NAME=VALUE.
type Option struct {
	Name     string   // Name of option, upper cased.
	EqualOpt string   // Value of string after =.
	Value    []string // Comma separated list after =.
}

// Kinds of registration.
const (
	TypeModel   = 1 + iota // Device with a unit number and options.
	TypeOption             // Directive with one argument.
	TypeOptions            // Directive with an argument and options.
	TypeSwitch             // Bare flag.
)

// NoUnit is passed to create functions registered without a unit.
const NoUnit = -1

type handlerDef struct {
	create func(int, string, []Option) error
	ty     int
}

var handlers = map[string]handlerDef{}

var lineNumber int

// Register a device model. Called from package init functions.
func RegisterModel(name string, fn func(int, string, []Option) error) {
	handlers[strings.ToUpper(name)] = handlerDef{create: fn, ty: TypeModel}
}

// Register a directive taking a single argument.
func RegisterOption(name string, fn func(int, string, []Option) error) {
	handlers[strings.ToUpper(name)] = handlerDef{create: fn, ty: TypeOption}
}

// Register a directive taking an argument and options.
func RegisterOptions(name string, fn func(int, string, []Option) error) {
	handlers[strings.ToUpper(name)] = handlerDef{create: fn, ty: TypeOptions}
}

// Register a bare switch.
func RegisterSwitch(name string, fn func(int, string, []Option) error) {
	handlers[strings.ToUpper(name)] = handlerDef{create: fn, ty: TypeSwitch}
}

// Current line of a configuration file being scanned.
type optionLine struct {
	line string
	pos  int
}

func (ol *optionLine) skipSpace() {
	for ol.pos < len(ol.line) && unicode.IsSpace(rune(ol.line[ol.pos])) {
		ol.pos++
	}
}

func (ol *optionLine) atEnd() bool {
	ol.skipSpace()
	return ol.pos >= len(ol.line) || ol.line[ol.pos] == '#'
}

// Collect one token, honoring double quotes.
func (ol *optionLine) token() string {
	ol.skipSpace()
	if ol.pos >= len(ol.line) {
		return ""
	}
	if ol.line[ol.pos] == '"' {
		ol.pos++
		start := ol.pos
		for ol.pos < len(ol.line) && ol.line[ol.pos] != '"' {
			ol.pos++
		}
		value := ol.line[start:ol.pos]
		if ol.pos < len(ol.line) {
			ol.pos++
		}
		return value
	}
	start := ol.pos
	for ol.pos < len(ol.line) {
		c := ol.line[ol.pos]
		if unicode.IsSpace(rune(c)) || c == '=' || c == '#' {
			break
		}
		ol.pos++
	}
	return ol.line[start:ol.pos]
}

// Collect one option, NAME or NAME=VALUE.
func (ol *optionLine) option() (Option, bool) {
	if ol.atEnd() {
		return Option{}, false
	}
	opt := Option{Name: strings.ToUpper(ol.token())}
	if opt.Name == "" {
		return Option{}, false
	}
	if ol.pos < len(ol.line) && ol.line[ol.pos] == '=' {
		ol.pos++
		opt.EqualOpt = ol.token()
		opt.Value = strings.Split(opt.EqualOpt, ",")
	}
	return opt, true
}

func parseLine(line string) error {
	ol := &optionLine{line: line}
	if ol.atEnd() {
		return nil
	}

	name := strings.ToUpper(ol.token())
	handler, ok := handlers[name]
	if !ok {
		return errors.New("unknown configuration entry: " + name)
	}

	unit := NoUnit
	argument := ""

	switch handler.ty {
	case TypeModel:
		if ol.atEnd() {
			return errors.New(name + " requires a unit number")
		}
		value, err := strconv.Atoi(ol.token())
		if err != nil {
			return errors.New(name + " unit must be a number")
		}
		unit = value
	case TypeOption, TypeOptions:
		if ol.atEnd() {
			return errors.New(name + " requires an argument")
		}
		argument = ol.token()
	case TypeSwitch:
		if !ol.atEnd() {
			return errors.New(name + " takes no argument")
		}
		return handler.create(NoUnit, "", nil)
	}

	var options []Option
	for {
		opt, ok := ol.option()
		if !ok {
			break
		}
		options = append(options, opt)
	}

	if handler.ty == TypeOption && len(options) != 0 {
		return errors.New(name + " takes no options")
	}
	return handler.create(unit, argument, options)
}

// Load and process a configuration file.
func LoadConfigFile(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()
	return LoadConfig(file)
}

// Process configuration text from a reader.
func LoadConfig(rdr io.Reader) error {
	scanner := bufio.NewScanner(rdr)
	lineNumber = 0
	for scanner.Scan() {
		lineNumber++
		if err := parseLine(scanner.Text()); err != nil {
			return fmt.Errorf("line %d: %w", lineNumber, err)
		}
	}
	return scanner.Err()
}

// Parse a size argument of the form <n>, <n>K or <n>M.
func ParseSize(arg string) (uint64, error) {
	arg = strings.ToUpper(strings.TrimSpace(arg))
	mult := uint64(1)
	switch {
	case strings.HasSuffix(arg, "M"):
		mult = 1024 * 1024
		arg = arg[:len(arg)-1]
	case strings.HasSuffix(arg, "K"):
		mult = 1024
		arg = arg[:len(arg)-1]
	}
	value, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, errors.New("bad size: " + arg)
	}
	return value * mult, nil
}
