/*
 * Astra64 - Machine configuration entries.
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

package machine

import (
	"errors"

	config "github.com/rcornwell/astra64/config/configparser"
)

var configuredMem uint64 = 64 * 1024 * 1024

// Installed memory from the configuration file, default 64 MiB.
func ConfiguredMemSize() uint64 {
	return configuredMem
}

func init() {
	config.RegisterOption("MEM", setMem)
}

// Process a MEM <size>[K|M] line.
func setMem(_ int, arg string, _ []config.Option) error {
	size, err := config.ParseSize(arg)
	if err != nil {
		return err
	}
	if size < 8*1024*1024 {
		return errors.New("machine: at least 8M of memory required")
	}
	configuredMem = size
	return nil
}
