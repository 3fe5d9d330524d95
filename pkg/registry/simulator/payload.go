/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package simulator

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const sampleSize = 128

// PayloadSamples hands out uplink payloads read from per-device-type sample
// directories, cycling through each directory's files in name order.
type PayloadSamples struct {
	mu    sync.Mutex
	files map[int][]string
	next  map[int]int
}

// LoadPayloadSamples lists the regular files of every directory in dirs,
// keyed by C2 device type id.
func LoadPayloadSamples(dirs map[int]string) (*PayloadSamples, error) {
	p := &PayloadSamples{
		files: make(map[int][]string, len(dirs)),
		next:  make(map[int]int, len(dirs)),
	}

	for typeID, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("payload samples for type %d: %w", typeID, err)
		}

		var files []string

		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}

		sort.Strings(files)
		p.files[typeID] = files
	}

	return p, nil
}

// Next returns the hex payload for the next sample of typeID. Types without
// samples get an empty payload. Short files are zero padded.
func (p *PayloadSamples) Next(typeID int) (string, error) {
	if p == nil {
		return "", nil
	}

	p.mu.Lock()
	files := p.files[typeID]

	if len(files) == 0 {
		p.mu.Unlock()
		return "", nil
	}

	path := files[p.next[typeID]%len(files)]
	p.next[typeID] = (p.next[typeID] + 1) % len(files)
	p.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sampleSize)
	if _, err := io.ReadFull(f, buf); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read payload sample %s: %w", path, err)
	}

	return hex.EncodeToString(buf), nil
}
