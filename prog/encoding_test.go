// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package prog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerialize(t *testing.T) {
	t.Parallel()
	p := openUseProg(t)
	assert.Equal(t, "r0 = open_r(&(0x20000000)='./file0\\x00')\nuse(r0)\n", string(p.Serialize()))
	assert.Equal(t, "open_r-use", p.String())
}

func TestSerializeInMemoryResources(t *testing.T) {
	t.Parallel()
	target := testTarget(t)
	pipe, rfd := makePipeCall(target)
	closeCall := target.SyscallMap["close"]
	c := MakeCall(closeCall, []Arg{MakeResultArg(closeCall.Args[0].Type, DirIn, rfd, 0)})
	p := &Prog{Target: target, Calls: []*Call{pipe, c}}
	assert.NoError(t, p.Validate())
	assert.Equal(t, "pipe(&(0x20000000)={<r0=>0xffffffffffffffff, 0xffffffffffffffff})\nclose(r0)\n",
		string(p.Serialize()))

	data, err := p.SerializeForExec()
	assert.NoError(t, err)
	decoded, err := target.DecodeExec(data)
	assert.NoError(t, err)
	assert.Equal(t, []ExecCopyout{{Index: 0, Addr: 0x20000000, Size: 4}}, decoded.Calls[0].Copyout)
}

func TestSerializeData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte("abc"), `'abc'`},
		{[]byte("a\x00\n'"), `'a\x00\n\''`},
		{[]byte{0xff, 0x01}, `"ff01"`},
		{nil, `""`},
	}
	for _, test := range tests {
		buf := new(bytes.Buffer)
		serializeData(buf, test.data)
		assert.Equal(t, test.want, buf.String())
	}
}
