/*
 * Astra64 - Debug message masks and the invariant assertion.
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

package debug

import (
	"fmt"
	"os"
	"strings"
	"sync"

	config "github.com/rcornwell/astra64/config/configparser"
)

var (
	mu      sync.Mutex
	logFile *os.File
	masks   = map[string]int{}
)

// Per module debug level names, registered by the module.
var optionNames = map[string]map[string]int{}

// Register the level names a module accepts on a DEBUG line.
func RegisterOptions(module string, levels map[string]int) {
	mu.Lock()
	defer mu.Unlock()
	optionNames[strings.ToUpper(module)] = levels
}

// Generic debug message, dropped unless the module mask matches.
func Debugf(module string, level int, format string, a ...interface{}) {
	mu.Lock()
	file := logFile
	mask := masks[strings.ToUpper(module)]
	mu.Unlock()
	if file == nil || mask&level == 0 {
		return
	}
	fmt.Fprintf(file, module+": "+format+"\n", a...)
}

// Assert a true invariant. Only for conditions that cannot happen
// without a kernel bug.
func Assert(cond bool, what string) {
	if !cond {
		panic("assertion failed: " + what)
	}
}

func init() {
	config.RegisterOption("DEBUGFILE", createFile)
	config.RegisterOptions("DEBUG", setMask)
}

func createFile(_ int, fileName string, _ []config.Option) error {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		return fmt.Errorf("can't have more than one debug file, previous: %s", logFile.Name())
	}
	file, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("unable to create debug file: %s", fileName)
	}
	logFile = file
	return nil
}

// Process a DEBUG <module> <level,...> line.
func setMask(_ int, module string, options []config.Option) error {
	mu.Lock()
	defer mu.Unlock()
	module = strings.ToUpper(module)
	levels, ok := optionNames[module]
	if !ok {
		return fmt.Errorf("no debug options for module %s", module)
	}
	for _, opt := range options {
		level, ok := levels[opt.Name]
		if !ok {
			return fmt.Errorf("module %s has no debug option %s", module, opt.Name)
		}
		masks[module] |= level
	}
	return nil
}
