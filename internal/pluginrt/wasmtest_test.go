package pluginrt

import (
	"bytes"
)

// --- Minimal WASM binary encoding helpers ---
// wazero has no WAT parser, so tests build modules directly in binary
// format: section/vector/LEB128/import/export/code/data framing, enough to
// construct guest modules without a real compiler toolchain.

func encodeSection(id byte, content []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(id)
	buf.Write(encodeLEB128(uint32(len(content))))
	buf.Write(content)
	return buf.Bytes()
}

func encodeVector(items [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(encodeLEB128(uint32(len(items))))
	for _, item := range items {
		buf.Write(item)
	}
	return buf.Bytes()
}

func encodeImport(module, name string, kind, typeIdx byte) []byte {
	var buf bytes.Buffer
	buf.Write(encodeLEB128(uint32(len(module))))
	buf.WriteString(module)
	buf.Write(encodeLEB128(uint32(len(name))))
	buf.WriteString(name)
	buf.WriteByte(kind)
	buf.WriteByte(typeIdx)
	return buf.Bytes()
}

func encodeExport(name string, kind, idx byte) []byte {
	var buf bytes.Buffer
	buf.Write(encodeLEB128(uint32(len(name))))
	buf.WriteString(name)
	buf.WriteByte(kind)
	buf.WriteByte(idx)
	return buf.Bytes()
}

func encodeCode(numI32Locals int, body []byte) []byte {
	var locals []byte
	if numI32Locals > 0 {
		locals = encodeVector([][]byte{append(encodeLEB128(uint32(numI32Locals)), 0x7f)})
	} else {
		locals = []byte{0}
	}
	full := append(append([]byte{}, locals...), body...)
	var buf bytes.Buffer
	buf.Write(encodeLEB128(uint32(len(full))))
	buf.Write(full)
	return buf.Bytes()
}

func encodeDataSegment(offset int, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0x00) // active, memory 0
	buf.WriteByte(0x41) // i32.const
	buf.Write(encodeSignedLEB128(int32(offset)))
	buf.WriteByte(0x0b) // end
	buf.Write(encodeLEB128(uint32(len(data))))
	buf.Write(data)
	return buf.Bytes()
}

func encodeLEB128(value uint32) []byte {
	var buf []byte
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if value == 0 {
			break
		}
	}
	return buf
}

func encodeSignedLEB128(value int32) []byte {
	var buf []byte
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if (value == 0 && b&0x40 == 0) || (value == -1 && b&0x40 != 0) {
			buf = append(buf, b)
			break
		}
		b |= 0x80
		buf = append(buf, b)
	}
	return buf
}

// hostFuncSig describes an env import's parameter count; every parameter
// and result in the host ABI is i32.
type hostFuncSig struct {
	params int
	result bool
}

var hostFuncSigs = map[string]hostFuncSig{
	"host_log":                 {3, false},
	"host_get_property":        {4, true},
	"host_config_get":          {4, true},
	"host_get_header":          {4, true},
	"host_get_body":            {2, true},
	"host_response_set_status": {1, false},
	"host_response_set_header": {4, false},
	"host_response_set_body":   {2, false},
	"host_response_send":       {0, false},
	"host_response_send_error": {1, false},
	"host_http_send":           {9, true},
	"host_http_read_response":  {2, true},
	"host_read_file":           {4, true},
	"host_write_file":          {4, true},
}

// buildGuestModule constructs a minimal binary module importing the named
// host functions (in order — call indices in body must reference them as
// 0..len(imports)-1), exporting "memory" and a zero-arg "handle_request"
// whose body is the given bytecode, with numI32Locals declared locals and
// optional data segments.
func buildGuestModule(imports []string, numI32Locals int, body []byte, data map[int][]byte) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x61, 0x73, 0x6d}) // magic
	b.Write([]byte{0x01, 0x00, 0x00, 0x00}) // version 1

	type sigKey struct {
		params int
		result bool
	}
	var typeOrder []sigKey
	typeIndex := map[sigKey]byte{}
	indexOf := func(sig hostFuncSig) byte {
		k := sigKey{sig.params, sig.result}
		if idx, ok := typeIndex[k]; ok {
			return idx
		}
		idx := byte(len(typeOrder))
		typeOrder = append(typeOrder, k)
		typeIndex[k] = idx
		return idx
	}

	importTypeIdx := make([]byte, len(imports))
	for i, name := range imports {
		importTypeIdx[i] = indexOf(hostFuncSigs[name])
	}
	handleReqType := indexOf(hostFuncSig{0, false})

	var typeEntries [][]byte
	for _, k := range typeOrder {
		entry := []byte{0x60, byte(k.params)}
		for i := 0; i < k.params; i++ {
			entry = append(entry, 0x7f)
		}
		if k.result {
			entry = append(entry, 1, 0x7f)
		} else {
			entry = append(entry, 0)
		}
		typeEntries = append(typeEntries, entry)
	}
	b.Write(encodeSection(1, encodeVector(typeEntries)))

	var importEntries [][]byte
	for i, name := range imports {
		importEntries = append(importEntries, encodeImport("env", name, 0x00, importTypeIdx[i]))
	}
	b.Write(encodeSection(2, encodeVector(importEntries)))

	b.Write(encodeSection(3, append([]byte{1}, handleReqType)))

	b.Write(encodeSection(5, []byte{1, 0x00, 2})) // 1 memory, min 2 pages

	handleFuncIdx := byte(len(imports))
	exports := [][]byte{
		encodeExport("memory", 0x02, 0),
		encodeExport("handle_request", 0x00, handleFuncIdx),
	}
	b.Write(encodeSection(7, encodeVector(exports)))

	b.Write(encodeSection(10, encodeVector([][]byte{encodeCode(numI32Locals, body)})))

	if len(data) > 0 {
		var segs [][]byte
		for offset, bytesAt := range data {
			segs = append(segs, encodeDataSegment(offset, bytesAt))
		}
		b.Write(encodeSection(11, encodeVector(segs)))
	}

	return b.Bytes()
}

// buildModuleMissingExport builds a module that exports nothing useful, used
// to exercise CompileImage's "must export handle_request" validation.
func buildModuleMissingExport() []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x61, 0x73, 0x6d})
	b.Write([]byte{0x01, 0x00, 0x00, 0x00})
	b.Write(encodeSection(5, []byte{1, 0x00, 2}))
	b.Write(encodeSection(7, encodeVector([][]byte{encodeExport("memory", 0x02, 0)})))
	return b.Bytes()
}
