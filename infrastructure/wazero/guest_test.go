package wazero

// guestModule assembles a small guest by hand:
//
//	add(i64, i64) i64          i64.add
//	allocate(i32) i32          bump allocator starting at 1024
//	deallocate(i32, i32)       increments the exported "freed" global
//	fail()                     unreachable
//	strlen(i64) i64            length half of a packed buffer
//	first(i64) i32             first byte of a packed buffer
func guestModule() []byte {
	section := func(id byte, body ...byte) []byte {
		return append([]byte{id, byte(len(body))}, body...)
	}
	name := func(s string) []byte {
		return append([]byte{byte(len(s))}, s...)
	}
	code := func(body ...byte) []byte {
		return append([]byte{byte(len(body))}, body...)
	}
	cat := func(parts ...[]byte) []byte {
		var out []byte
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	const (
		i32 = 0x7f
		i64 = 0x7e
	)
	types := cat(
		[]byte{6},
		[]byte{0x60, 2, i64, i64, 1, i64}, // 0: add
		[]byte{0x60, 1, i32, 1, i32},      // 1: allocate
		[]byte{0x60, 2, i32, i32, 0},      // 2: deallocate
		[]byte{0x60, 0, 0},                // 3: fail
		[]byte{0x60, 1, i64, 1, i64},      // 4: strlen
		[]byte{0x60, 1, i64, 1, i32},      // 5: first
	)
	funcs := []byte{6, 0, 1, 2, 3, 4, 5}
	mem := []byte{1, 0x00, 1}
	globals := cat(
		[]byte{2},
		[]byte{i32, 1, 0x41, 0x80, 0x08, 0x0b}, // heap pointer = 1024
		[]byte{i32, 1, 0x41, 0x00, 0x0b},       // freed = 0
	)
	exports := cat(
		[]byte{8},
		name("memory"), []byte{0x02, 0},
		name("add"), []byte{0x00, 0},
		name("allocate"), []byte{0x00, 1},
		name("deallocate"), []byte{0x00, 2},
		name("fail"), []byte{0x00, 3},
		name("strlen"), []byte{0x00, 4},
		name("first"), []byte{0x00, 5},
		name("freed"), []byte{0x03, 1},
	)
	bodies := cat(
		[]byte{6},
		code(0, 0x20, 0, 0x20, 1, 0x7c, 0x0b),
		code(0, 0x23, 0, 0x23, 0, 0x20, 0, 0x6a, 0x24, 0, 0x0b),
		code(0, 0x23, 1, 0x41, 1, 0x6a, 0x24, 1, 0x0b),
		code(0, 0x00, 0x0b),
		code(0, 0x20, 0, 0x42, 0xff, 0xff, 0xff, 0xff, 0x0f, 0x83, 0x0b),
		code(0, 0x20, 0, 0x42, 0x20, 0x88, 0xa7, 0x2d, 0, 0, 0x0b),
	)

	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(1, types...),
		section(3, funcs...),
		section(5, mem...),
		section(6, globals...),
		section(7, exports...),
		section(10, bodies...),
	)
}
