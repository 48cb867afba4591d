package canflash

import "fmt"

const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

// Identifier is an 11-bit standard or 29-bit extended CAN identifier.
type Identifier struct {
	raw      uint32
	extended bool
}

// StandardID returns an 11-bit identifier. Values above 0x7FF are rejected.
func StandardID(id uint32) (Identifier, error) {
	if id > MaxStandardID {
		return Identifier{}, fmt.Errorf("%w: standard identifier 0x%X out of range", ErrInvalidFrame, id)
	}
	return Identifier{raw: id}, nil
}

// ExtendedID returns a 29-bit identifier. Values above 0x1FFFFFFF are rejected.
func ExtendedID(id uint32) (Identifier, error) {
	if id > MaxExtendedID {
		return Identifier{}, fmt.Errorf("%w: extended identifier 0x%X out of range", ErrInvalidFrame, id)
	}
	return Identifier{raw: id, extended: true}, nil
}

// MustStandardID is like StandardID but panics on an invalid value. Meant for
// protocol constants.
func MustStandardID(id uint32) Identifier {
	ident, err := StandardID(id)
	if err != nil {
		panic(err)
	}
	return ident
}

func (i Identifier) Raw() uint32      { return i.raw }
func (i Identifier) IsExtended() bool { return i.extended }

func (i Identifier) String() string {
	if i.extended {
		return fmt.Sprintf("0x%08X", i.raw)
	}
	return fmt.Sprintf("0x%03X", i.raw)
}
