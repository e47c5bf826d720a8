package wire

import "google.golang.org/protobuf/encoding/protowire"

// EndPoint is an address and hit count that ends the session.
type EndPoint struct {
	Address uint64
	Counter uint64
}

// MemoryDump is a region to snapshot at termination.
type MemoryDump struct {
	Address uint64
	Length  uint64
}

// Control is the session description read from the control pipe.
type Control struct {
	MaxDuration          int64
	NumFaults            int64
	TBExecList           bool
	TBInfo               bool
	MemInfo              bool
	StartAddress         uint64
	StartCounter         uint64
	EndPoints            []EndPoint
	TBExecListRingBuffer bool
	MemoryDumps          []MemoryDump
	HasStart             bool
	FullMemDump          bool
}

const (
	controlMaxDuration          protowire.Number = 1
	controlNumFaults            protowire.Number = 2
	controlTBExecList           protowire.Number = 3
	controlTBInfo               protowire.Number = 4
	controlMemInfo              protowire.Number = 5
	controlStartAddress         protowire.Number = 6
	controlStartCounter         protowire.Number = 7
	controlEndPoints            protowire.Number = 8
	controlTBExecListRingBuffer protowire.Number = 9
	controlMemoryDumps          protowire.Number = 10
	controlHasStart             protowire.Number = 11
	controlFullMemDump          protowire.Number = 12
)

// Marshal encodes the message.
func (c *Control) Marshal() []byte {
	var b []byte
	b = appendVarint(b, controlMaxDuration, uint64(c.MaxDuration))
	b = appendVarint(b, controlNumFaults, uint64(c.NumFaults))
	b = appendBool(b, controlTBExecList, c.TBExecList)
	b = appendBool(b, controlTBInfo, c.TBInfo)
	b = appendBool(b, controlMemInfo, c.MemInfo)
	b = appendVarint(b, controlStartAddress, c.StartAddress)
	b = appendVarint(b, controlStartCounter, c.StartCounter)
	for _, e := range c.EndPoints {
		var m []byte
		m = appendVarint(m, 1, e.Address)
		m = appendVarint(m, 2, e.Counter)
		b = appendMessage(b, controlEndPoints, m)
	}
	b = appendBool(b, controlTBExecListRingBuffer, c.TBExecListRingBuffer)
	for _, d := range c.MemoryDumps {
		var m []byte
		m = appendVarint(m, 1, d.Address)
		m = appendVarint(m, 2, d.Length)
		b = appendMessage(b, controlMemoryDumps, m)
	}
	b = appendBool(b, controlHasStart, c.HasStart)
	b = appendBool(b, controlFullMemDump, c.FullMemDump)
	return b
}

// Unmarshal decodes b into c.
func (c *Control) Unmarshal(b []byte) error {
	*c = Control{}
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case controlMaxDuration:
			var v uint64
			v, err = f.varint()
			c.MaxDuration = int64(v)
		case controlNumFaults:
			var v uint64
			v, err = f.varint()
			c.NumFaults = int64(v)
		case controlTBExecList:
			c.TBExecList, err = f.bool()
		case controlTBInfo:
			c.TBInfo, err = f.bool()
		case controlMemInfo:
			c.MemInfo, err = f.bool()
		case controlStartAddress:
			c.StartAddress, err = f.varint()
		case controlStartCounter:
			c.StartCounter, err = f.varint()
		case controlEndPoints:
			var e EndPoint
			err = decodePair(f, &e.Address, &e.Counter)
			c.EndPoints = append(c.EndPoints, e)
		case controlTBExecListRingBuffer:
			c.TBExecListRingBuffer, err = f.bool()
		case controlMemoryDumps:
			var d MemoryDump
			err = decodePair(f, &d.Address, &d.Length)
			c.MemoryDumps = append(c.MemoryDumps, d)
		case controlHasStart:
			c.HasStart, err = f.bool()
		case controlFullMemDump:
			c.FullMemDump, err = f.bool()
		}
		return err
	})
}

// decodePair decodes a sub-message holding varint fields 1 and 2.
func decodePair(f field, first, second *uint64) error {
	b, err := f.bytes()
	if err != nil {
		return err
	}
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			*first, err = f.varint()
		case 2:
			*second, err = f.varint()
		}
		return err
	})
}
