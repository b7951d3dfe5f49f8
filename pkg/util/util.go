/*
 * Copyright 2022 Nebuly.ai
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

package util

import (
	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
	"os"
	"strconv"
)

func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	value := GetEnv(key, strconv.Itoa(fallback))
	if v, err := strconv.Atoi(value); err != nil {
		return fallback
	} else {
		return v
	}
}

type empty struct {
}

// GetKeys returns the union of the keys of the provided maps, in no particular order.
func GetKeys[K comparable, V any](maps ...map[K]V) []K {
	var set = make(map[K]empty)
	for _, m := range maps {
		for k := range m {
			set[k] = empty{}
		}
	}
	var res = make([]K, len(set))
	var i int
	for k := range set {
		res[i] = k
		i++
	}
	return res
}

// GetSortedKeys returns the union of the keys of the provided maps in ascending order.
func GetSortedKeys[K constraints.Ordered, V any](maps ...map[K]V) []K {
	res := GetKeys(maps...)
	slices.Sort(res)
	return res
}

func CopyMap[K comparable, V any](m map[K]V) map[K]V {
	var res = make(map[K]V, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}

func Min[K constraints.Ordered](v1 K, v2 K) K {
	if v1 < v2 {
		return v1
	}
	return v2
}

func Max[K constraints.Ordered](v1 K, v2 K) K {
	if v1 > v2 {
		return v1
	}
	return v2
}

func Filter[K any](slice []K, filter func(k K) bool) []K {
	var res = make([]K, 0)
	for _, k := range slice {
		if filter(k) {
			res = append(res, k)
		}
	}
	return res
}

func Sum[K constraints.Integer | constraints.Float](values ...K) K {
	var res K
	for _, v := range values {
		res += v
	}
	return res
}

func UnorderedEqual[K any](first []K, second []K) bool {
	firstLen := len(first)
	secondLen := len(second)
	if firstLen != secondLen {
		return false
	}

	visited := make([]bool, firstLen)

	for i := 0; i < firstLen; i++ {
		found := false
		element := first[i]
		for j := 0; j < secondLen; j++ {
			if visited[j] {
				continue
			}
			if cmp.Equal(element, second[j]) {
				visited[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
