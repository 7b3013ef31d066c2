/*
   minihpl - Distributed dense linear system solver
   Copyright (C) 2012-2014  Casey Marshall

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package comm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
)

var maxReadLen = 1 << 26

type MsgType uint8

const (
	MsgTypeHello     = MsgType(0)
	MsgTypeCandidate = MsgType(1)
	MsgTypeVector    = MsgType(2)
	MsgTypeBarrier   = MsgType(3)
	MsgTypeAbort     = MsgType(4)
)

func (mt MsgType) String() string {
	switch mt {
	case MsgTypeHello:
		return "Hello"
	case MsgTypeCandidate:
		return "Candidate"
	case MsgTypeVector:
		return "Vector"
	case MsgTypeBarrier:
		return "Barrier"
	case MsgTypeAbort:
		return "Abort"
	}
	return "Unknown"
}

// Msg is a message exchanged between the ranks of a process group.
type Msg interface {
	MsgType() MsgType
	unmarshal(r io.Reader) error
	marshal(w io.Writer) error
}

type emptyMsg struct{}

func (msg *emptyMsg) unmarshal(r io.Reader) error { return nil }

func (msg *emptyMsg) marshal(w io.Writer) error { return nil }

func ReadInt(r io.Reader) (int, error) {
	buf := make([]byte, 4)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n := int(int32(binary.BigEndian.Uint32(buf)))
	return n, nil
}

func ReadLen(r io.Reader) (int, error) {
	n, err := ReadInt(r)
	if err != nil {
		return n, errors.WithStack(err)
	}
	if n < 0 || n > maxReadLen {
		return 0, errors.Errorf("read length %d exceeds maximum limit", n)
	}
	return n, nil
}

func WriteInt(w io.Writer, n int) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(n)))
	_, err := w.Write(buf)
	return errors.WithStack(err)
}

func ReadString(r io.Reader) (string, error) {
	n, err := ReadLen(r)
	if err != nil || n == 0 {
		return "", err
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(r, buf)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(buf), nil
}

func WriteString(w io.Writer, text string) error {
	err := WriteInt(w, len(text))
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = w.Write([]byte(text))
	return errors.WithStack(err)
}

func ReadFloat(r io.Reader) (float64, error) {
	buf := make([]byte, 8)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
}

func WriteFloat(w io.Writer, f float64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	_, err := w.Write(buf)
	return errors.WithStack(err)
}

func ReadFloats(r io.Reader) ([]float64, error) {
	n, err := ReadLen(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	buf := make([]byte, 8*n)
	_, err = io.ReadFull(r, buf)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[8*i:]))
	}
	return data, nil
}

func WriteFloats(w io.Writer, data []float64) error {
	err := WriteInt(w, len(data))
	if err != nil {
		return errors.WithStack(err)
	}
	buf := make([]byte, 8*len(data))
	for i, f := range data {
		binary.BigEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	_, err = w.Write(buf)
	return errors.WithStack(err)
}

// Hello identifies a rank and the problem it was configured to solve. It is
// exchanged once per connection, before any other message.
type Hello struct {
	Version string
	Rank    int
	Size    int
	N       int
	NB      int
}

func (msg *Hello) String() string {
	return fmt.Sprintf("%v: Version=%v Rank=%d Size=%d N=%d NB=%d",
		msg.MsgType(), msg.Version, msg.Rank, msg.Size, msg.N, msg.NB)
}

func (msg *Hello) MsgType() MsgType {
	return MsgTypeHello
}

func (msg *Hello) marshal(w io.Writer) error {
	if err := WriteString(w, msg.Version); err != nil {
		return errors.WithStack(err)
	}
	for _, n := range []int{msg.Rank, msg.Size, msg.N, msg.NB} {
		if err := WriteInt(w, n); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (msg *Hello) unmarshal(r io.Reader) error {
	var err error
	msg.Version, err = ReadString(r)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, p := range []*int{&msg.Rank, &msg.Size, &msg.N, &msg.NB} {
		*p, err = ReadInt(r)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// CandidateMsg carries one rank's contribution to an arg-max reduction.
type CandidateMsg struct {
	Candidate
}

func (msg *CandidateMsg) String() string {
	return fmt.Sprintf("%v: value=%g index=%d", msg.MsgType(), msg.Value, msg.Index)
}

func (msg *CandidateMsg) MsgType() MsgType {
	return MsgTypeCandidate
}

func (msg *CandidateMsg) marshal(w io.Writer) error {
	err := WriteFloat(w, msg.Value)
	if err != nil {
		return errors.WithStack(err)
	}
	return WriteInt(w, msg.Index)
}

func (msg *CandidateMsg) unmarshal(r io.Reader) error {
	var err error
	msg.Value, err = ReadFloat(r)
	if err != nil {
		return errors.WithStack(err)
	}
	msg.Index, err = ReadInt(r)
	return errors.WithStack(err)
}

// Vector carries a slice of matrix data. Tag identifies the collective
// operation the vector belongs to.
type Vector struct {
	Tag  Tag
	Data []float64
}

func (msg *Vector) String() string {
	return fmt.Sprintf("%v: tag=%v len=%d", msg.MsgType(), msg.Tag, len(msg.Data))
}

func (msg *Vector) MsgType() MsgType {
	return MsgTypeVector
}

func (msg *Vector) marshal(w io.Writer) error {
	err := WriteInt(w, int(msg.Tag))
	if err != nil {
		return errors.WithStack(err)
	}
	return WriteFloats(w, msg.Data)
}

func (msg *Vector) unmarshal(r io.Reader) error {
	tag, err := ReadInt(r)
	if err != nil {
		return errors.WithStack(err)
	}
	msg.Tag = Tag(tag)
	msg.Data, err = ReadFloats(r)
	return errors.WithStack(err)
}

type Barrier struct {
	*emptyMsg
}

func (msg *Barrier) String() string {
	return fmt.Sprintf("%v", msg.MsgType())
}

func (msg *Barrier) MsgType() MsgType {
	return MsgTypeBarrier
}

// Abort terminates the whole process group with an exit code.
type Abort struct {
	Code   int
	Reason string
}

func (msg *Abort) String() string {
	return fmt.Sprintf("%v: code=%d reason=%q", msg.MsgType(), msg.Code, msg.Reason)
}

func (msg *Abort) MsgType() MsgType {
	return MsgTypeAbort
}

func (msg *Abort) marshal(w io.Writer) error {
	err := WriteInt(w, msg.Code)
	if err != nil {
		return errors.WithStack(err)
	}
	return WriteString(w, msg.Reason)
}

func (msg *Abort) unmarshal(r io.Reader) error {
	var err error
	msg.Code, err = ReadInt(r)
	if err != nil {
		return errors.WithStack(err)
	}
	msg.Reason, err = ReadString(r)
	return errors.WithStack(err)
}

var RemoteConfigPassed string = "passed"
var RemoteConfigFailed string = "failed"

func ReadMsg(r io.Reader) (Msg, error) {
	msgSize, err := ReadLen(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if msgSize < 1 {
		return nil, errors.Errorf("empty message frame")
	}
	msgBuf := make([]byte, msgSize)
	_, err = io.ReadFull(r, msgBuf)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	br := bytes.NewBuffer(msgBuf)
	buf := make([]byte, 1)
	_, err = io.ReadFull(br, buf[:1])
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var msg Msg
	msgType := MsgType(buf[0])
	switch msgType {
	case MsgTypeHello:
		msg = &Hello{}
	case MsgTypeCandidate:
		msg = &CandidateMsg{}
	case MsgTypeVector:
		msg = &Vector{}
	case MsgTypeBarrier:
		msg = &Barrier{}
	case MsgTypeAbort:
		msg = &Abort{}
	default:
		return nil, errors.Errorf("unexpected message code: %d", msgType)
	}
	err = msg.unmarshal(br)
	return msg, errors.WithStack(err)
}

// Encode returns the framed wire representation of msg.
func Encode(msg Msg) ([]byte, error) {
	data := bytes.NewBuffer(nil)
	data.WriteByte(byte(msg.MsgType()))
	err := msg.marshal(data)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	frame := bytes.NewBuffer(make([]byte, 0, data.Len()+4))
	err = WriteInt(frame, data.Len())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	frame.Write(data.Bytes())
	return frame.Bytes(), nil
}

func WriteMsgDirect(w io.Writer, msg Msg) error {
	frame, err := Encode(msg)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = w.Write(frame)
	return errors.WithStack(err)
}

func WriteMsg(w io.Writer, msgs ...Msg) error {
	bufw := bufio.NewWriter(w)
	for _, msg := range msgs {
		err := WriteMsgDirect(bufw, msg)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	err := bufw.Flush()
	return errors.WithStack(err)
}
