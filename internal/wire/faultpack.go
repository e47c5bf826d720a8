package wire

import "google.golang.org/protobuf/encoding/protowire"

// Fault is one fault descriptor as sent on the config pipe. Type and
// Model carry the raw enum values.
type Fault struct {
	Address           uint64
	Type              uint64
	Model             uint64
	Lifespan          uint64
	TriggerAddress    uint64
	TriggerHitcounter uint64
	MaskUpper         uint64
	MaskLower         uint64
	NumBytes          uint64
}

// FaultPack is the config pipe message.
type FaultPack struct {
	Faults []Fault
}

const (
	faultAddress           protowire.Number = 1
	faultType              protowire.Number = 2
	faultModel             protowire.Number = 3
	faultLifespan          protowire.Number = 4
	faultTriggerAddress    protowire.Number = 5
	faultTriggerHitcounter protowire.Number = 6
	faultMaskUpper         protowire.Number = 7
	faultMaskLower         protowire.Number = 8
	faultNumBytes          protowire.Number = 9

	packFaults protowire.Number = 1
)

func (f *Fault) marshal() []byte {
	var b []byte
	b = appendVarint(b, faultAddress, f.Address)
	b = appendVarint(b, faultType, f.Type)
	b = appendVarint(b, faultModel, f.Model)
	b = appendVarint(b, faultLifespan, f.Lifespan)
	b = appendVarint(b, faultTriggerAddress, f.TriggerAddress)
	b = appendVarint(b, faultTriggerHitcounter, f.TriggerHitcounter)
	b = appendVarint(b, faultMaskUpper, f.MaskUpper)
	b = appendVarint(b, faultMaskLower, f.MaskLower)
	b = appendVarint(b, faultNumBytes, f.NumBytes)
	return b
}

func (f *Fault) unmarshal(b []byte) error {
	*f = Fault{}
	return walk(b, func(fl field) error {
		var dst *uint64
		switch fl.num {
		case faultAddress:
			dst = &f.Address
		case faultType:
			dst = &f.Type
		case faultModel:
			dst = &f.Model
		case faultLifespan:
			dst = &f.Lifespan
		case faultTriggerAddress:
			dst = &f.TriggerAddress
		case faultTriggerHitcounter:
			dst = &f.TriggerHitcounter
		case faultMaskUpper:
			dst = &f.MaskUpper
		case faultMaskLower:
			dst = &f.MaskLower
		case faultNumBytes:
			dst = &f.NumBytes
		default:
			return nil
		}
		v, err := fl.varint()
		*dst = v
		return err
	})
}

// Marshal encodes the message.
func (p *FaultPack) Marshal() []byte {
	var b []byte
	for i := range p.Faults {
		b = appendMessage(b, packFaults, p.Faults[i].marshal())
	}
	return b
}

// Unmarshal decodes b into p.
func (p *FaultPack) Unmarshal(b []byte) error {
	*p = FaultPack{}
	return walk(b, func(f field) error {
		if f.num != packFaults {
			return nil
		}
		m, err := f.bytes()
		if err != nil {
			return err
		}
		var flt Fault
		if err := flt.unmarshal(m); err != nil {
			return err
		}
		p.Faults = append(p.Faults, flt)
		return nil
	})
}
