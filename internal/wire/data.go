package wire

import "google.golang.org/protobuf/encoding/protowire"

// TBInformation describes one translated block.
type TBInformation struct {
	BaseAddress      uint64
	Size             uint64
	InstructionCount uint64
	NumOfExec        uint64
	Assembler        string
}

// TBExecOrder is one entry of the block execution log.
type TBExecOrder struct {
	TBBaseAddress uint64
	Pos           uint64
}

// MemInfo is one aggregated memory access.
type MemInfo struct {
	InsAddress    uint64
	Size          uint64
	MemoryAddress uint64
	Direction     uint64
	Counter       uint64
}

// RegisterDump is one register file snapshot.
type RegisterDump struct {
	RegisterValues []uint64
	PC             uint64
	TBCount        uint64
}

// RegisterInfo carries the architecture tag and every register dump.
type RegisterInfo struct {
	ArchType      uint64
	RegisterDumps []RegisterDump
}

// FaultedData is the disassembly of a block holding a faulted instruction.
type FaultedData struct {
	TriggerAddress uint64
	Assembler      string
}

// MemDumpInfo holds the snapshots of one memory region.
type MemDumpInfo struct {
	Address uint64
	Len     uint64
	Dumps   [][]byte
}

// MemMapInfo is one mapped guest region.
type MemMapInfo struct {
	Address uint64
	Size    uint64
}

// Data is the result message written to the data pipe.
type Data struct {
	EndPoint       int64
	EndReason      string
	TBInformations []TBInformation
	TBExecOrders   []TBExecOrder
	MemInfos       []MemInfo
	RegisterInfo   *RegisterInfo
	FaultedDatas   []FaultedData
	MemDumpInfos   []MemDumpInfo
	MemMapInfos    []MemMapInfo
}

const (
	dataEndPoint       protowire.Number = 1
	dataEndReason      protowire.Number = 2
	dataTBInformations protowire.Number = 3
	dataTBExecOrders   protowire.Number = 4
	dataMemInfos       protowire.Number = 5
	dataRegisterInfo   protowire.Number = 6
	dataFaultedDatas   protowire.Number = 7
	dataMemDumpInfos   protowire.Number = 8
	dataMemMapInfos    protowire.Number = 9
)

// Marshal encodes the message.
func (d *Data) Marshal() []byte {
	var b []byte
	b = appendVarint(b, dataEndPoint, uint64(d.EndPoint))
	b = appendString(b, dataEndReason, d.EndReason)
	for _, t := range d.TBInformations {
		var m []byte
		m = appendVarint(m, 1, t.BaseAddress)
		m = appendVarint(m, 2, t.Size)
		m = appendVarint(m, 3, t.InstructionCount)
		m = appendVarint(m, 4, t.NumOfExec)
		m = appendString(m, 5, t.Assembler)
		b = appendMessage(b, dataTBInformations, m)
	}
	for _, e := range d.TBExecOrders {
		var m []byte
		m = appendVarint(m, 1, e.TBBaseAddress)
		m = appendVarint(m, 2, e.Pos)
		b = appendMessage(b, dataTBExecOrders, m)
	}
	for _, mi := range d.MemInfos {
		var m []byte
		m = appendVarint(m, 1, mi.InsAddress)
		m = appendVarint(m, 2, mi.Size)
		m = appendVarint(m, 3, mi.MemoryAddress)
		m = appendVarint(m, 4, mi.Direction)
		m = appendVarint(m, 5, mi.Counter)
		b = appendMessage(b, dataMemInfos, m)
	}
	if ri := d.RegisterInfo; ri != nil {
		var m []byte
		m = appendVarint(m, 1, ri.ArchType)
		for _, rd := range ri.RegisterDumps {
			var dm []byte
			dm = appendPacked(dm, 1, rd.RegisterValues)
			dm = appendVarint(dm, 2, rd.PC)
			dm = appendVarint(dm, 3, rd.TBCount)
			m = appendMessage(m, 2, dm)
		}
		b = appendMessage(b, dataRegisterInfo, m)
	}
	for _, f := range d.FaultedDatas {
		var m []byte
		m = appendVarint(m, 1, f.TriggerAddress)
		m = appendString(m, 2, f.Assembler)
		b = appendMessage(b, dataFaultedDatas, m)
	}
	for _, md := range d.MemDumpInfos {
		var m []byte
		m = appendVarint(m, 1, md.Address)
		m = appendVarint(m, 2, md.Len)
		for _, snap := range md.Dumps {
			m = appendMessage(m, 3, appendBytes(nil, 1, snap))
		}
		b = appendMessage(b, dataMemDumpInfos, m)
	}
	for _, mm := range d.MemMapInfos {
		var m []byte
		m = appendVarint(m, 1, mm.Address)
		m = appendVarint(m, 2, mm.Size)
		b = appendMessage(b, dataMemMapInfos, m)
	}
	return b
}

// Unmarshal decodes b into d.
func (d *Data) Unmarshal(b []byte) error {
	*d = Data{}
	return walk(b, func(f field) error {
		switch f.num {
		case dataEndPoint:
			v, err := f.varint()
			d.EndPoint = int64(v)
			return err
		case dataEndReason:
			v, err := f.bytes()
			d.EndReason = string(v)
			return err
		case dataTBInformations:
			var t TBInformation
			err := sub(f, func(f field) (err error) {
				switch f.num {
				case 1:
					t.BaseAddress, err = f.varint()
				case 2:
					t.Size, err = f.varint()
				case 3:
					t.InstructionCount, err = f.varint()
				case 4:
					t.NumOfExec, err = f.varint()
				case 5:
					var s []byte
					s, err = f.bytes()
					t.Assembler = string(s)
				}
				return err
			})
			d.TBInformations = append(d.TBInformations, t)
			return err
		case dataTBExecOrders:
			var e TBExecOrder
			err := decodePair(f, &e.TBBaseAddress, &e.Pos)
			d.TBExecOrders = append(d.TBExecOrders, e)
			return err
		case dataMemInfos:
			var mi MemInfo
			err := sub(f, func(f field) (err error) {
				switch f.num {
				case 1:
					mi.InsAddress, err = f.varint()
				case 2:
					mi.Size, err = f.varint()
				case 3:
					mi.MemoryAddress, err = f.varint()
				case 4:
					mi.Direction, err = f.varint()
				case 5:
					mi.Counter, err = f.varint()
				}
				return err
			})
			d.MemInfos = append(d.MemInfos, mi)
			return err
		case dataRegisterInfo:
			ri := &RegisterInfo{}
			err := sub(f, func(f field) (err error) {
				switch f.num {
				case 1:
					ri.ArchType, err = f.varint()
				case 2:
					var rd RegisterDump
					err = sub(f, func(f field) (err error) {
						switch f.num {
						case 1:
							rd.RegisterValues, err = consumePacked(f, rd.RegisterValues)
						case 2:
							rd.PC, err = f.varint()
						case 3:
							rd.TBCount, err = f.varint()
						}
						return err
					})
					ri.RegisterDumps = append(ri.RegisterDumps, rd)
				}
				return err
			})
			d.RegisterInfo = ri
			return err
		case dataFaultedDatas:
			var fd FaultedData
			err := sub(f, func(f field) (err error) {
				switch f.num {
				case 1:
					fd.TriggerAddress, err = f.varint()
				case 2:
					var s []byte
					s, err = f.bytes()
					fd.Assembler = string(s)
				}
				return err
			})
			d.FaultedDatas = append(d.FaultedDatas, fd)
			return err
		case dataMemDumpInfos:
			var md MemDumpInfo
			err := sub(f, func(f field) (err error) {
				switch f.num {
				case 1:
					md.Address, err = f.varint()
				case 2:
					md.Len, err = f.varint()
				case 3:
					var snap []byte
					err = sub(f, func(f field) (err error) {
						if f.num == 1 {
							var v []byte
							v, err = f.bytes()
							snap = append([]byte(nil), v...)
						}
						return err
					})
					md.Dumps = append(md.Dumps, snap)
				}
				return err
			})
			d.MemDumpInfos = append(d.MemDumpInfos, md)
			return err
		case dataMemMapInfos:
			var mm MemMapInfo
			err := decodePair(f, &mm.Address, &mm.Size)
			d.MemMapInfos = append(d.MemMapInfos, mm)
			return err
		}
		return nil
	})
}

// sub walks the length-delimited sub-message carried by f.
func sub(f field, fn func(f field) error) error {
	b, err := f.bytes()
	if err != nil {
		return err
	}
	return walk(b, fn)
}
