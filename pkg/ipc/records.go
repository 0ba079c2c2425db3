// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// record is a fixed-size message exchanged with the executor.
// All fields are little-endian and laid out back to back without padding.
type record interface {
	size() int
	encode(buf []byte)
	decode(buf []byte)
}

const (
	inMagic  = uint64(0xbadc0ffeebadface)
	outMagic = uint32(0xbadf00d)
)

type handshakeReq struct {
	magic uint64
	flags uint64 // env flags
	pid   uint64
}

func (req *handshakeReq) size() int { return 24 }

func (req *handshakeReq) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], req.magic)
	binary.LittleEndian.PutUint64(buf[8:], req.flags)
	binary.LittleEndian.PutUint64(buf[16:], req.pid)
}

func (req *handshakeReq) decode(buf []byte) {
	req.magic = binary.LittleEndian.Uint64(buf[0:])
	req.flags = binary.LittleEndian.Uint64(buf[8:])
	req.pid = binary.LittleEndian.Uint64(buf[16:])
}

type handshakeReply struct {
	magic uint32
}

func (reply *handshakeReply) size() int { return 4 }

func (reply *handshakeReply) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf, reply.magic)
}

func (reply *handshakeReply) decode(buf []byte) {
	reply.magic = binary.LittleEndian.Uint32(buf)
}

type executeReq struct {
	magic     uint64
	envFlags  uint64 // env flags
	execFlags uint64 // exec flags
	pid       uint64
	progSize  uint64
	// prog follows
}

func (req *executeReq) size() int { return 40 }

func (req *executeReq) encode(buf []byte) {
	for i, v := range []uint64{req.magic, req.envFlags, req.execFlags, req.pid, req.progSize} {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
}

func (req *executeReq) decode(buf []byte) {
	for i, v := range []*uint64{&req.magic, &req.envFlags, &req.execFlags, &req.pid, &req.progSize} {
		*v = binary.LittleEndian.Uint64(buf[i*8:])
	}
}

type executeReply struct {
	magic uint32
	// If done is 0, then this is call completion message followed by callReply.
	// If done is 1, then program execution is finished and status is set.
	done   uint32
	status uint32
}

func (reply *executeReply) size() int { return 12 }

func (reply *executeReply) encode(buf []byte) {
	for i, v := range []uint32{reply.magic, reply.done, reply.status} {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
}

func (reply *executeReply) decode(buf []byte) {
	for i, v := range []*uint32{&reply.magic, &reply.done, &reply.status} {
		*v = binary.LittleEndian.Uint32(buf[i*4:])
	}
}

type callReply struct {
	index      uint32 // call index in the program
	num        uint32 // syscall number (for cross-checking)
	errno      uint32
	flags      uint32 // see CallFlags
	signalSize uint32
	coverSize  uint32
	// signal/cover follow
}

func (reply *callReply) size() int { return 24 }

func (reply *callReply) fields() []*uint32 {
	return []*uint32{&reply.index, &reply.num, &reply.errno, &reply.flags, &reply.signalSize, &reply.coverSize}
}

func (reply *callReply) encode(buf []byte) {
	for i, v := range reply.fields() {
		binary.LittleEndian.PutUint32(buf[i*4:], *v)
	}
}

func (reply *callReply) decode(buf []byte) {
	for i, v := range reply.fields() {
		*v = binary.LittleEndian.Uint32(buf[i*4:])
	}
}

func writeRecord(w io.Writer, rec record) error {
	buf := make([]byte, rec.size())
	rec.encode(buf)
	_, err := w.Write(buf)
	return err
}

func readRecord(r io.Reader, rec record) error {
	buf := make([]byte, rec.size())
	if n, err := io.ReadFull(r, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("short read: %v/%v bytes", n, len(buf))
		}
		return err
	}
	rec.decode(buf)
	return nil
}

func readUint32Array(outp *[]byte, size uint32) ([]uint32, bool) {
	out := *outp
	if uint64(size)*4 > uint64(len(out)) {
		return nil, false
	}
	if size == 0 {
		return nil, true
	}
	res := make([]uint32, size)
	for i := range res {
		res[i] = binary.LittleEndian.Uint32(out[i*4:])
	}
	*outp = out[size*4:]
	return res, true
}
