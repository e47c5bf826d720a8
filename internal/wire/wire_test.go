package wire

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestControlEncoding(t *testing.T) {
	c := &Control{NumFaults: 1, HasStart: true}
	want := []byte{0x10, 0x01, 0x58, 0x01}
	if diff := cmp.Diff(want, c.Marshal()); diff != "" {
		t.Errorf("Marshal mismatch (-want +got):\n%s", diff)
	}
}

func TestControlRoundTrip(t *testing.T) {
	in := &Control{
		MaxDuration:          1000,
		NumFaults:            2,
		TBExecList:           true,
		TBInfo:               true,
		MemInfo:              true,
		StartAddress:         0x8000,
		StartCounter:         3,
		EndPoints:            []EndPoint{{Address: 0x8100, Counter: 1}, {Address: 0x8200, Counter: 2}},
		TBExecListRingBuffer: true,
		MemoryDumps:          []MemoryDump{{Address: 0x20000000, Length: 0x100}},
		HasStart:             true,
		FullMemDump:          true,
	}
	var out Control
	if err := out.Unmarshal(in.Marshal()); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, &out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFaultPackDecode(t *testing.T) {
	// Hand-built message: one fault with unknown field 15 appended.
	var fm []byte
	fm = protowire.AppendTag(fm, 1, protowire.VarintType)
	fm = protowire.AppendVarint(fm, 0x2000)
	fm = protowire.AppendTag(fm, 2, protowire.VarintType)
	fm = protowire.AppendVarint(fm, 2)
	fm = protowire.AppendTag(fm, 3, protowire.VarintType)
	fm = protowire.AppendVarint(fm, 3)
	fm = protowire.AppendTag(fm, 8, protowire.VarintType)
	fm = protowire.AppendVarint(fm, 0xff)
	fm = protowire.AppendTag(fm, 9, protowire.VarintType)
	fm = protowire.AppendVarint(fm, 1)
	fm = protowire.AppendTag(fm, 15, protowire.Fixed32Type)
	fm = protowire.AppendFixed32(fm, 7)

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, fm)

	var p FaultPack
	if err := p.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := FaultPack{Faults: []Fault{{
		Address:   0x2000,
		Type:      2,
		Model:     3,
		MaskLower: 0xff,
		NumBytes:  1,
	}}}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("decode mismatch (-want +got):\n%s", diff)
	}

	var again FaultPack
	if err := again.Unmarshal(p.Marshal()); err != nil {
		t.Fatalf("Unmarshal re-encoded: %v", err)
	}
	if diff := cmp.Diff(p, again); diff != "" {
		t.Errorf("re-encode mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"truncated varint", []byte{0x08, 0x80}},
		{"truncated bytes", []byte{0x0a, 0x05, 0x01}},
		{"wrong wire type", []byte{0x12, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Control
			if err := c.Unmarshal(tt.b); !errors.Is(err, ErrMalformed) {
				t.Errorf("Unmarshal(%x) = %v, want ErrMalformed", tt.b, err)
			}
		})
	}
}

func TestDataRoundTrip(t *testing.T) {
	in := &Data{
		EndPoint:  1,
		EndReason: "endpoint 0x8100/1",
		TBInformations: []TBInformation{{
			BaseAddress:      0x8000,
			Size:             8,
			InstructionCount: 2,
			NumOfExec:        4,
			Assembler:        "[     8000 ]: nop !!\n",
		}},
		TBExecOrders: []TBExecOrder{{TBBaseAddress: 0x8000, Pos: 0}, {TBBaseAddress: 0x8008, Pos: 1}},
		MemInfos: []MemInfo{{
			InsAddress:    0x8004,
			Size:          2,
			MemoryAddress: 0x2000,
			Direction:     1,
			Counter:       3,
		}},
		RegisterInfo: &RegisterInfo{
			ArchType: 1,
			RegisterDumps: []RegisterDump{
				{RegisterValues: []uint64{0, 1, 1 << 40}, PC: 0x8004, TBCount: 5},
			},
		},
		FaultedDatas: []FaultedData{{TriggerAddress: 0x8004, Assembler: "x"}},
		MemDumpInfos: []MemDumpInfo{{Address: 0x2000, Len: 2, Dumps: [][]byte{{1, 2}, {3, 4}}}},
		MemMapInfos:  []MemMapInfo{{Address: 0, Size: 0x1000}},
	}
	var out Data
	if err := out.Unmarshal(in.Marshal()); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, &out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterValuesUnpacked(t *testing.T) {
	var dm []byte
	for _, v := range []uint64{7, 9} {
		dm = protowire.AppendTag(dm, 1, protowire.VarintType)
		dm = protowire.AppendVarint(dm, v)
	}
	var ri []byte
	ri = protowire.AppendTag(ri, 2, protowire.BytesType)
	ri = protowire.AppendBytes(ri, dm)
	var b []byte
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendBytes(b, ri)

	var d Data
	if err := d.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := &RegisterInfo{RegisterDumps: []RegisterDump{{RegisterValues: []uint64{7, 9}}}}
	if diff := cmp.Diff(want, d.RegisterInfo); diff != "" {
		t.Errorf("register info mismatch (-want +got):\n%s", diff)
	}
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "3\nabc0\n" {
		t.Fatalf("stream = %q", got)
	}

	r := bufio.NewReader(&buf)
	for _, want := range []string{"abc", ""} {
		got, err := ReadFrame(r)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(got) != want {
			t.Errorf("ReadFrame = %q, want %q", got, want)
		}
	}
}

func TestReadFrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"bad length", "x1\nabc", ErrBadFrame},
		{"short payload", "5\nab", ErrTruncated},
		{"no newline", "12", ErrTruncated},
		{"too large", "999999999999\n", ErrBadFrame},
		{"long header", strings.Repeat("1", 40), ErrBadFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bufio.NewReader(strings.NewReader(tt.input)))
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame(%q) = %v, want %v", tt.input, err, tt.want)
			}
		})
	}
}
