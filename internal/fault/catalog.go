package fault

// Catalog owns the faults armed for a session, in insertion order.
type Catalog struct {
	faults []*Fault
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Append validates and adds a fault.
func (c *Catalog) Append(f *Fault) error {
	if err := f.Validate(); err != nil {
		return err
	}
	c.faults = append(c.faults, f)
	return nil
}

// Len returns the number of faults.
func (c *Catalog) Len() int {
	return len(c.faults)
}

// At returns the fault in slot i.
func (c *Catalog) At(i int) *Fault {
	return c.faults[i]
}

// Faults returns the faults in catalog order.
func (c *Catalog) Faults() []*Fault {
	return c.faults
}

// AssignSlots numbers the triggers in catalog order.
func (c *Catalog) AssignSlots() {
	for i, f := range c.faults {
		f.Trigger.Trignum = i
	}
}

// Lookup returns the fault in slot trignum if its trigger is at addr.
func (c *Catalog) Lookup(addr uint64, trignum int) (*Fault, bool) {
	if trignum < 0 || trignum >= len(c.faults) {
		return nil, false
	}
	f := c.faults[trignum]
	if f.Trigger.Address != addr {
		return nil, false
	}
	return f, true
}

// Reset drops every fault.
func (c *Catalog) Reset() {
	c.faults = nil
}
