/*
 * Astra64 - Configuration parser test cases.
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
	"strings"
	"testing"
)

type captured struct {
	unit    int
	arg     string
	options []Option
	calls   int
}

func (c *captured) create(unit int, arg string, options []Option) error {
	c.unit = unit
	c.arg = arg
	c.options = options
	c.calls++
	return nil
}

func TestModelLine(t *testing.T) {
	var cap captured
	RegisterModel("TDEV", cap.create)

	err := LoadConfig(strings.NewReader("# a comment\ntdev 2 file=disk.img ro\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cap.calls != 1 || cap.unit != 2 {
		t.Fatalf("create calls=%d unit=%d", cap.calls, cap.unit)
	}
	if len(cap.options) != 2 {
		t.Fatalf("want 2 options, got %d", len(cap.options))
	}
	if cap.options[0].Name != "FILE" || cap.options[0].EqualOpt != "disk.img" {
		t.Errorf("first option wrong: %+v", cap.options[0])
	}
	if cap.options[1].Name != "RO" || cap.options[1].EqualOpt != "" {
		t.Errorf("second option wrong: %+v", cap.options[1])
	}
}

func TestOptionLine(t *testing.T) {
	var cap captured
	RegisterOption("TFILE", cap.create)

	if err := LoadConfig(strings.NewReader("TFILE \"some file.log\"\n")); err != nil {
		t.Fatal(err)
	}
	if cap.arg != "some file.log" {
		t.Errorf("quoted argument wrong: %q", cap.arg)
	}
	if cap.unit != NoUnit {
		t.Errorf("option lines carry no unit, got %d", cap.unit)
	}

	// Options on a plain directive are rejected.
	if err := LoadConfig(strings.NewReader("TFILE x EXTRA=1\n")); err == nil {
		t.Error("trailing options should be rejected")
	}
}

func TestOptionsLine(t *testing.T) {
	var cap captured
	RegisterOptions("TDBG", cap.create)

	if err := LoadConfig(strings.NewReader("tdbg pmm cmd=a,b detail\n")); err != nil {
		t.Fatal(err)
	}
	if cap.arg != "pmm" {
		t.Errorf("argument wrong: %q", cap.arg)
	}
	if len(cap.options) != 2 || len(cap.options[0].Value) != 2 {
		t.Errorf("comma list wrong: %+v", cap.options)
	}
}

func TestSwitchLine(t *testing.T) {
	var cap captured
	RegisterSwitch("TSW", cap.create)

	if err := LoadConfig(strings.NewReader("TSW\n")); err != nil {
		t.Fatal(err)
	}
	if cap.calls != 1 {
		t.Error("switch should fire once")
	}
	if err := LoadConfig(strings.NewReader("TSW extra\n")); err == nil {
		t.Error("switch with argument should be rejected")
	}
}

func TestErrors(t *testing.T) {
	if err := LoadConfig(strings.NewReader("NOSUCH 1\n")); err == nil {
		t.Error("unknown entry should fail")
	}
	var cap captured
	RegisterModel("TBAD", cap.create)
	if err := LoadConfig(strings.NewReader("TBAD xyz\n")); err == nil {
		t.Error("non numeric unit should fail")
	}
	if err := LoadConfig(strings.NewReader("TBAD\n")); err == nil {
		t.Error("missing unit should fail")
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		arg  string
		want uint64
		ok   bool
	}{
		{"64M", 64 * 1024 * 1024, true},
		{"128k", 128 * 1024, true},
		{"4096", 4096, true},
		{"junk", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseSize(tc.arg)
		if tc.ok != (err == nil) || got != tc.want {
			t.Errorf("ParseSize(%q) = %d, %v", tc.arg, got, err)
		}
	}
}
