/*
 * Astra64 - Context switch primitive.
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

package proc

// Saved context: the callee-saved register image plus the resume gate
// the emulated switch hands control through. On hardware this is the
// save area a push/pop/ret sequence walks; here each task runs on its
// own goroutine and the gate carries the handoff. The entry function
// of a fresh task rides in the save area, in the entry field that
// stands in for the R12 slot of the hardware layout, because no stack
// has been set up yet.
type Context struct {
	R15, R14, R13, R12 uint64
	RBP, RBX, RIP      uint64

	entry  func()
	resume chan struct{}
}

func newContext() *Context {
	return &Context{resume: make(chan struct{}, 1)}
}

// Switch from the outgoing save area into the incoming one. A nil
// outgoing pointer signals the first switch: the outgoing state is
// discarded and the caller does not suspend.
func contextSwitch(from, to *Context) {
	to.resume <- struct{}{}
	if from != nil {
		<-from.resume
	}
}
