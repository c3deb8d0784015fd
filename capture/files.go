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

import (
	"fmt"
	"os"

	"github.com/tesdaq/tesd/aiobuf"
)

// dataFiles holds the aiobuf.Writer(s) backing payload storage for one
// capture session. Which fields are populated depends on the session's
// Layout: LayoutSingleFile uses only single; LayoutPerType uses the
// other four, selected per frame type by writerFor.
type dataFiles struct {
	layout Layout
	single *aiobuf.Writer
	bad    *aiobuf.Writer
	mca    *aiobuf.Writer
	tick   *aiobuf.Writer
	event  *aiobuf.Writer
}

func (d *dataFiles) writerFor(ft FType) *aiobuf.Writer {
	if d.layout == LayoutSingleFile {
		return d.single
	}
	switch ft {
	case FTypeBad:
		return d.bad
	case FTypeMCA:
		return d.mca
	case FTypeTick:
		return d.tick
	default:
		return d.event
	}
}

func (d *dataFiles) writers() []*aiobuf.Writer {
	if d.layout == LayoutSingleFile {
		return []*aiobuf.Writer{d.single}
	}
	return []*aiobuf.Writer{d.bad, d.mca, d.tick, d.event}
}

// indexFiles holds the four index-record writers every session keeps
// regardless of data layout.
type indexFiles struct {
	frame  *aiobuf.Writer
	tick   *aiobuf.Writer
	mca    *aiobuf.Writer
	stream *aiobuf.Writer
}

func (i *indexFiles) writers() []*aiobuf.Writer {
	return []*aiobuf.Writer{i.frame, i.tick, i.mca, i.stream}
}

// openSession opens every data/index file a session needs, named by
// suffixing path with the original's extension convention
// (.dat/.bdat/.mdat/.tdat/.edat, .fidx/.tidx/.midx/.ridx). On any
// failure it closes whatever it already opened and returns the error;
// overwrite controls whether pre-existing files are replaced.
func openSession(path string, layout Layout, overwrite bool) (*dataFiles, *indexFiles, error) {
	opened := make([]*aiobuf.Writer, 0, 8)
	open := func(suffix string) (*aiobuf.Writer, error) {
		w, err := aiobuf.Open(path+suffix, overwrite)
		if err != nil {
			for _, o := range opened {
				o.Close()
			}
			return nil, fmt.Errorf("capture: open %s%s: %w", path, suffix, err)
		}
		opened = append(opened, w)
		return w, nil
	}

	df := &dataFiles{layout: layout}
	var err error
	if layout == LayoutSingleFile {
		if df.single, err = open(".dat"); err != nil {
			return nil, nil, err
		}
	} else {
		if df.bad, err = open(".bdat"); err != nil {
			return nil, nil, err
		}
		if df.mca, err = open(".mdat"); err != nil {
			return nil, nil, err
		}
		if df.tick, err = open(".tdat"); err != nil {
			return nil, nil, err
		}
		if df.event, err = open(".edat"); err != nil {
			return nil, nil, err
		}
	}

	idx := &indexFiles{}
	if idx.frame, err = open(".fidx"); err != nil {
		return nil, nil, err
	}
	if idx.mca, err = open(".midx"); err != nil {
		return nil, nil, err
	}
	if idx.tick, err = open(".tidx"); err != nil {
		return nil, nil, err
	}
	if idx.stream, err = open(".ridx"); err != nil {
		return nil, nil, err
	}
	return df, idx, nil
}

// closeSession flushes and closes every file a session opened,
// collecting the first error encountered but attempting every close.
func closeSession(df *dataFiles, idx *indexFiles) error {
	var first error
	for _, w := range append(df.writers(), idx.writers()...) {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// writeStatsFile writes the session's final statistics record to path,
// overwriting or creating it as needed. This is a small, synchronous
// write (not routed through aiobuf): it happens once, at job end.
func writeStatsFile(path string, st Stats) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("capture: open stats file %s: %w", path, err)
	}
	defer f.Close()
	return st.Encode(f)
}
