// Package tristate holds values that may be unknown. Satellites report
// booleans and scores that are absent as often as present, and collapsing an
// absent value to false or zero would overwrite what is actually known.
package tristate

import (
	"encoding/json"
	"strconv"
)

type Bool uint8

const (
	Unknown Bool = iota
	False
	True
)

func FromBool(b bool) Bool {
	if b {
		return True
	}
	return False
}

func FromPtr(b *bool) Bool {
	if b == nil {
		return Unknown
	}
	return FromBool(*b)
}

func (b Bool) Known() bool { return b != Unknown }
func (b Bool) IsTrue() bool { return b == True }

// Ptr is nil for Unknown.
func (b Bool) Ptr() *bool {
	if b == Unknown {
		return nil
	}
	v := b == True
	return &v
}

func (b Bool) String() string {
	switch b {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "UNKNOWN"
	}
}

func (b Bool) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Ptr())
}

func (b *Bool) UnmarshalJSON(data []byte) error {
	var p *bool
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = FromPtr(p)
	return nil
}

// Int is an optional int32.
type Int struct {
	v     int32
	known bool
}

func IntOf(v int32) Int { return Int{v: v, known: true} }

func IntFromPtr(p *int32) Int {
	if p == nil {
		return Int{}
	}
	return IntOf(*p)
}

func (i Int) Known() bool { return i.known }

func (i Int) Get() (int32, bool) { return i.v, i.known }

func (i Int) Ptr() *int32 {
	if !i.known {
		return nil
	}
	v := i.v
	return &v
}

func (i Int) String() string {
	if !i.known {
		return "UNKNOWN"
	}
	return strconv.Itoa(int(i.v))
}

func (i Int) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Ptr())
}

func (i *Int) UnmarshalJSON(data []byte) error {
	var p *int32
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*i = IntFromPtr(p)
	return nil
}
