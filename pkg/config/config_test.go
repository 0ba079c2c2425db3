// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	type Nested struct {
		Aaa int    `json:"aaa"`
		Bbb string `json:"bbb"`
	}
	type Config struct {
		Foo int      `json:"foo"`
		Bar string   `json:"bar"`
		Baz string   `json:"-"`
		Qux []string `json:"qux"`
		Box Nested   `json:"box"`
		Boq *Nested  `json:"boq"`
	}

	tests := []struct {
		input  string
		output Config
		err    string
	}{
		{
			input:  `{"foo": 42}`,
			output: Config{Foo: 42},
		},
		{
			input:  `{"BAR": "Baz", "foo": 42}`,
			output: Config{Foo: 42, Bar: "Baz"},
		},
		{
			input: `{"foobar": 42}`,
			err:   `unknown field "foobar"`,
		},
		{
			input: `{"foo": 1, "baz": "baz", "bar": "bar"}`,
			err:   `unknown field "baz"`,
		},
		{
			input: `
# comment
{
	"foo": 1,
	# another comment
	"box": {"aaa": 12, "bbb": "bbb"}
}`,
			output: Config{Foo: 1, Box: Nested{Aaa: 12, Bbb: "bbb"}},
		},
		{
			input: `
foo: 1
qux:
  - aaa
  - bbb
boq:
  aaa: 3
`,
			output: Config{Foo: 1, Qux: []string{"aaa", "bbb"}, Boq: &Nested{Aaa: 3}},
		},
		{
			input: "foo: 1\nunknown: 2\n",
			err:   `unknown field "unknown"`,
		},
		{
			input: "foo: [1",
			err:   "failed to parse config file",
		},
	}
	for i, test := range tests {
		var cfg Config
		err := LoadData([]byte(test.input), &cfg)
		if test.err != "" {
			require.Error(t, err, "#%v", i)
			assert.Contains(t, err.Error(), test.err, "#%v", i)
			continue
		}
		require.NoError(t, err, "#%v", i)
		if diff := cmp.Diff(test.output, cfg); diff != "" {
			t.Errorf("#%v: config mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestLoadFile(t *testing.T) {
	type Config struct {
		Procs int `json:"procs"`
	}
	var cfg Config
	assert.Error(t, LoadFile("", &cfg))
	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing"), &cfg))

	file := filepath.Join(t.TempDir(), "gen.cfg")
	require.NoError(t, os.WriteFile(file, []byte("procs: 4\n"), 0644))
	require.NoError(t, LoadFile(file, &cfg))
	assert.Equal(t, 4, cfg.Procs)
}
