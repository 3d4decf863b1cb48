/*
 * hp3478ext - Nonvolatile option storage.
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

package config

import (
	"io"
	"os"
)

// Size of the nonvolatile region in bytes. It covers every option address
// in config.go; unwritten cells read as 0xFF.
const Size = 64

// Store is a flat byte addressed nonvolatile region with bounded reads
// and writes. *os.File satisfies it directly.
type Store interface {
	io.ReaderAt
	io.WriterAt
}

// MemStore is an in-memory Store for tests and for running without a
// backing file.
type MemStore [Size]byte

func NewMemStore() *MemStore {
	var m MemStore
	for i := range m {
		m[i] = 0xff
	}
	return &m
}

func (m *MemStore) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= Size {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemStore) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= Size {
		return 0, io.ErrShortWrite
	}
	n := copy(m[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// OpenFile opens (or creates) a file backed store. A fresh file is filled
// with 0xFF, the erased state, so every option boots to its factory
// default.
func OpenFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size() < Size {
		blank := make([]byte, Size-info.Size())
		for i := range blank {
			blank[i] = 0xff
		}
		if _, err := file.WriteAt(blank, info.Size()); err != nil {
			file.Close()
			return nil, err
		}
	}
	return file, nil
}
