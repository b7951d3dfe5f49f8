/*
 * Copyright 2023 nebuly.com.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package demux

import (
	"fmt"
	"github.com/nebuly-ai/qpack/internal/compose"
	"github.com/nebuly-ai/qpack/pkg/backend"
	"github.com/nebuly-ai/qpack/pkg/util"
	"math/big"
	"strings"
)

// DemuxError is returned when a raw outcome cannot be projected onto a
// register map. It signals a mismatch between the composed host circuit and
// the outcomes returned for it.
type DemuxError struct {
	CircuitIndex int
	CircuitName  string
	Key          string
	Reason       string
}

func (e *DemuxError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cannot demultiplex outcome %q for circuit %q (%d): %s", e.Key, e.CircuitName, e.CircuitIndex, e.Reason)
	}
	return fmt.Sprintf("cannot demultiplex outcomes for circuit %q (%d): %s", e.CircuitName, e.CircuitIndex, e.Reason)
}

// NormalizeKey converts an outcome key to a plain binary string of exactly
// width characters, with bit 0 as the rightmost one. Keys may be plain binary,
// binary with space separated registers, or hexadecimal prefixed by 0x. Only
// hexadecimal keys, which drop their leading zeros, are padded: a binary key
// narrower than width is an error.
func NormalizeKey(key string, width int) (string, error) {
	bits, hex, err := parseKey(key)
	if err != nil {
		return "", err
	}
	if len(bits) < width && !hex {
		return "", fmt.Errorf("outcome %q has %d bits, expected %d", key, len(bits), width)
	}
	return fitKey(key, bits, width)
}

// parseKey returns the binary digits of a key and whether it was hexadecimal.
func parseKey(key string) (string, bool, error) {
	if strings.HasPrefix(key, "0x") || strings.HasPrefix(key, "0X") {
		v, ok := new(big.Int).SetString(key[2:], 16)
		if !ok {
			return "", true, fmt.Errorf("invalid hexadecimal outcome %q", key)
		}
		return v.Text(2), true, nil
	}
	bits := strings.ReplaceAll(key, " ", "")
	if bits == "" {
		return "", false, fmt.Errorf("empty outcome %q", key)
	}
	for _, c := range bits {
		if c != '0' && c != '1' {
			return "", false, fmt.Errorf("invalid binary outcome %q", key)
		}
	}
	return bits, false, nil
}

// fitKey trims the leading zeros of bits beyond width, or pads bits with
// zeros up to width.
func fitKey(key, bits string, width int) (string, error) {
	if len(bits) > width {
		extra := bits[:len(bits)-width]
		if strings.ContainsRune(extra, '1') {
			return "", fmt.Errorf("outcome %q has more than %d bits", key, width)
		}
		return bits[len(bits)-width:], nil
	}
	return strings.Repeat("0", width-len(bits)) + bits, nil
}

// Project returns the bits [offset, offset+width) of a normalized key.
func Project(key string, offset, width int) string {
	end := len(key) - offset
	return key[end-width : end]
}

// Split projects the raw counts of a host circuit with numBits outcome bits
// onto every register map. The i-th returned Counts belongs to the i-th map;
// outcomes colliding after projection are summed, so every result has the
// same total as raw.
func Split(raw backend.Counts, numBits int, maps []compose.RegisterMap) ([]backend.Counts, error) {
	for _, m := range maps {
		if m.Offset < 0 || m.Width < 0 || m.Offset+m.Width > numBits {
			return nil, &DemuxError{
				CircuitIndex: m.CircuitIndex,
				CircuitName:  m.CircuitName,
				Reason:       fmt.Sprintf("bits [%d,%d) exceed the %d bits of the outcome register", m.Offset, m.Offset+m.Width, numBits),
			}
		}
	}

	res := make([]backend.Counts, len(maps))
	for i := range res {
		res[i] = make(backend.Counts)
	}
	// sorted keys keep the first reported error stable
	for _, key := range util.GetSortedKeys(raw) {
		normalized, err := normalizeRawKey(key, numBits, maps)
		if err != nil {
			return nil, err
		}
		for i, m := range maps {
			res[i][Project(normalized, m.Offset, m.Width)] += raw[key]
		}
	}
	return res, nil
}

// normalizeRawKey normalizes a raw key of the host register. A binary key
// narrower than the register fails on the first register map it cannot cover.
func normalizeRawKey(key string, numBits int, maps []compose.RegisterMap) (string, error) {
	first := compose.RegisterMap{CircuitIndex: -1}
	if len(maps) > 0 {
		first = maps[0]
	}
	bits, hex, err := parseKey(key)
	if err != nil {
		return "", &DemuxError{CircuitIndex: first.CircuitIndex, CircuitName: first.CircuitName, Key: key, Reason: err.Error()}
	}
	width := numBits
	if !hex && len(bits) < numBits {
		width = len(bits)
		for _, m := range maps {
			if m.Offset+m.Width > width {
				return "", &DemuxError{
					CircuitIndex: m.CircuitIndex,
					CircuitName:  m.CircuitName,
					Key:          key,
					Reason:       fmt.Sprintf("bits [%d,%d) exceed the %d bits of the outcome", m.Offset, m.Offset+m.Width, width),
				}
			}
		}
	}
	res, err := fitKey(key, bits, width)
	if err != nil {
		return "", &DemuxError{CircuitIndex: first.CircuitIndex, CircuitName: first.CircuitName, Key: key, Reason: err.Error()}
	}
	return res, nil
}
