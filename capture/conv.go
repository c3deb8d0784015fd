/*
 * Copyright 2024 CloudWeGo Authors
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

package capture

import "github.com/tesdaq/tesd/hdf5conv"

// dataFileSuffixes lists which data-file suffixes apply for a given
// layout, in the order their datasets should appear.
func dataFileSuffixes(layout Layout) []string {
	if layout == LayoutSingleFile {
		return []string{".dat"}
	}
	return []string{".bdat", ".mdat", ".tdat", ".edat"}
}

var indexFileSuffixes = []string{".fidx", ".midx", ".tidx", ".ridx"}

// buildConvRequest assembles the HDF5 handoff for a finished (closed)
// capture session: one dataset per data/index file that was opened,
// named after its extension without the leading dot, plus a "stats"
// dataset built directly from the in-memory stats record. Grounded on
// spec's "HDF5 conversion request" struct, filled in with the same
// file set s_task_save_open created.
func buildConvRequest(path, measurement string, layout Layout, st Stats, async bool) hdf5conv.Request {
	req := hdf5conv.Request{
		Filename:  path + ".h5",
		Group:     measurement,
		Overwrite: true,
		Async:     async,
	}
	for _, suffix := range dataFileSuffixes(layout) {
		req.Dsets = append(req.Dsets, hdf5conv.DatasetDesc{
			Name:     suffix[1:],
			Filename: path + suffix,
			Length:   -1,
		})
	}
	for _, suffix := range indexFileSuffixes {
		req.Dsets = append(req.Dsets, hdf5conv.DatasetDesc{
			Name:     suffix[1:],
			Filename: path + suffix,
			Length:   -1,
		})
	}

	var statsBuf [StatLen]byte
	w := &byteWriter{buf: statsBuf[:]}
	st.Encode(w)
	req.Dsets = append(req.Dsets, hdf5conv.DatasetDesc{
		Name:   "stats",
		Buffer: statsBuf[:],
		Length: StatLen,
	})

	return req
}
