package timer

import "strconv"

// ID 数字或字符串, 零值表示未指定
type ID struct {
	num  int64
	name string
}

func IntID(n int64) ID {
	return ID{num: n}
}

func NamedID(name string) ID {
	return ID{name: name}
}

func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) IsNamed() bool {
	return id.name != ""
}

func (id ID) Int() int64 {
	return id.num
}

func (id ID) Name() string {
	return id.name
}

func (id ID) String() string {
	if id.IsNamed() {
		return id.name
	}
	return strconv.FormatInt(id.num, 10)
}
