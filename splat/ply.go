package splat

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

type plyFormat uint8

const (
	plyASCII plyFormat = iota
	plyBinaryLE
	plyBinaryBE
)

type plyProperty struct {
	name string
	kind string
	size int
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

func (e plyElement) stride() int {
	var n int
	for _, p := range e.props {
		n += p.size
	}
	return n
}

var plyTypeSizes = map[string]int{
	"char": 1, "int8": 1, "uchar": 1, "uint8": 1,
	"short": 2, "int16": 2, "ushort": 2, "uint16": 2,
	"int": 4, "int32": 4, "uint": 4, "uint32": 4,
	"float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

func readPLYHeader(r *bufio.Reader) (format plyFormat, elements []plyElement, err error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, nil, fmt.Errorf("can't read PLY magic: %v", err)
	}
	if strings.TrimSpace(line) != "ply" {
		return 0, nil, fmt.Errorf("not a PLY file (magic %q)", strings.TrimSpace(line))
	}
	haveFormat := false
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			return 0, nil, fmt.Errorf("truncated PLY header: %v", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "comment", "obj_info":
		case "format":
			if len(fields) < 2 {
				return 0, nil, fmt.Errorf("bad PLY format line %q", line)
			}
			switch fields[1] {
			case "ascii":
				format = plyASCII
			case "binary_little_endian":
				format = plyBinaryLE
			case "binary_big_endian":
				format = plyBinaryBE
			default:
				return 0, nil, fmt.Errorf("unknown PLY format %q", fields[1])
			}
			haveFormat = true
		case "element":
			if len(fields) != 3 {
				return 0, nil, fmt.Errorf("bad PLY element line %q", line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return 0, nil, fmt.Errorf("bad PLY element count in %q", line)
			}
			elements = append(elements, plyElement{name: fields[1], count: count})
		case "property":
			if len(elements) == 0 {
				return 0, nil, fmt.Errorf("PLY property before any element: %q", line)
			}
			if len(fields) != 3 {
				return 0, nil, fmt.Errorf("unsupported PLY property %q (list properties are not allowed)", strings.TrimSpace(line))
			}
			size, found := plyTypeSizes[fields[1]]
			if !found {
				return 0, nil, fmt.Errorf("unknown PLY property type %q", fields[1])
			}
			e := &elements[len(elements)-1]
			e.props = append(e.props, plyProperty{name: fields[2], kind: fields[1], size: size})
		case "end_header":
			if !haveFormat {
				return 0, nil, fmt.Errorf("PLY header has no format line")
			}
			return format, elements, nil
		default:
			return 0, nil, fmt.Errorf("unexpected PLY header line %q", strings.TrimSpace(line))
		}
	}
}

func decodeBinary(b []byte, kind string, order binary.ByteOrder) float64 {
	switch kind {
	case "char", "int8":
		return float64(int8(b[0]))
	case "uchar", "uint8":
		return float64(b[0])
	case "short", "int16":
		return float64(int16(order.Uint16(b)))
	case "ushort", "uint16":
		return float64(order.Uint16(b))
	case "int", "int32":
		return float64(int32(order.Uint32(b)))
	case "uint", "uint32":
		return float64(order.Uint32(b))
	case "float", "float32":
		return float64(math.Float32frombits(order.Uint32(b)))
	default:
		return math.Float64frombits(order.Uint64(b))
	}
}

// vertexLayout maps PLY vertex property positions to splat attribute slots.
type vertexLayout struct {
	mean    [3]int
	dc      [3]int
	scale   [3]int
	rot     [4]int
	opacity int
	rest    []int // rest[m] is the property index of f_rest_m
}

func newVertexLayout(props []plyProperty) (*vertexLayout, error) {
	index := make(map[string]int, len(props))
	for i, p := range props {
		index[p.name] = i
	}
	lookup := func(name string) (int, error) {
		i, found := index[name]
		if !found {
			return 0, fmt.Errorf("PLY vertex element is missing property %q", name)
		}
		return i, nil
	}
	var l vertexLayout
	var err error
	for d, name := range []string{"x", "y", "z"} {
		if l.mean[d], err = lookup(name); err != nil {
			return nil, err
		}
	}
	for d := 0; d < 3; d++ {
		if l.dc[d], err = lookup(fmt.Sprintf("f_dc_%d", d)); err != nil {
			return nil, err
		}
		if l.scale[d], err = lookup(fmt.Sprintf("scale_%d", d)); err != nil {
			return nil, err
		}
	}
	for d := 0; d < 4; d++ {
		if l.rot[d], err = lookup(fmt.Sprintf("rot_%d", d)); err != nil {
			return nil, err
		}
	}
	if l.opacity, err = lookup("opacity"); err != nil {
		return nil, err
	}
	for m := 0; ; m++ {
		i, found := index[fmt.Sprintf("f_rest_%d", m)]
		if !found {
			break
		}
		l.rest = append(l.rest, i)
	}
	return &l, nil
}

// ReadPLY reads a 3D Gaussian Splatting PLY file (ascii or binary) into a Set.
// The SH band degree is inferred from the number of f_rest_* properties.
func ReadPLY(r io.Reader) (*Set, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	format, elements, err := readPLYHeader(br)
	if err != nil {
		return nil, err
	}
	var order binary.ByteOrder = binary.LittleEndian
	if format == plyBinaryBE {
		order = binary.BigEndian
	}

	var set *Set
	for _, e := range elements {
		if e.name != "vertex" {
			if set != nil {
				break // trailing elements are ignored
			}
			if err := skipElement(br, e, format); err != nil {
				return nil, err
			}
			continue
		}
		layout, err := newVertexLayout(e.props)
		if err != nil {
			return nil, err
		}
		if len(layout.rest)%3 != 0 {
			return nil, fmt.Errorf("PLY has %d f_rest properties, expected a multiple of 3", len(layout.rest))
		}
		k := len(layout.rest) / 3
		degree, err := DegreeForCoeffs(k)
		if err != nil {
			return nil, err
		}
		set = newSet(e.count, degree)
		values := make([]float64, len(e.props))
		row := make([]byte, e.stride())
		for i := 0; i < e.count; i++ {
			if format == plyASCII {
				if err := readASCIIRow(br, values); err != nil {
					return nil, fmt.Errorf("vertex %d: %v", i, err)
				}
			} else {
				if _, err := io.ReadFull(br, row); err != nil {
					return nil, fmt.Errorf("vertex %d: %v", i, err)
				}
				off := 0
				for p, prop := range e.props {
					values[p] = decodeBinary(row[off:off+prop.size], prop.kind, order)
					off += prop.size
				}
			}
			set.setVertex(i, layout, k, values)
		}
	}
	if set == nil {
		return nil, fmt.Errorf("PLY file has no vertex element")
	}
	return set, nil
}

func newSet(n, degree int) *Set {
	k := CoeffsForDegree(degree)
	return &Set{
		Means:     make([]float32, n*3),
		Rotations: make([]float32, n*4),
		Scales:    make([]float32, n*3),
		Opacities: make([]float32, n),
		SH0:       make([]float32, n*3),
		SHN:       make([]float32, n*k*3),
		Degree:    degree,
	}
}

func (s *Set) setVertex(i int, l *vertexLayout, k int, values []float64) {
	for d := 0; d < 3; d++ {
		s.Means[i*3+d] = float32(values[l.mean[d]])
		s.SH0[i*3+d] = float32(values[l.dc[d]])
		s.Scales[i*3+d] = float32(values[l.scale[d]])
	}
	for d := 0; d < 4; d++ {
		s.Rotations[i*4+d] = float32(values[l.rot[d]])
	}
	s.Opacities[i] = float32(values[l.opacity])
	// f_rest_* is stored channel-major: f_rest[c*K + j].
	for c := 0; c < 3; c++ {
		for j := 0; j < k; j++ {
			s.SHN[i*k*3+j*3+c] = float32(values[l.rest[c*k+j]])
		}
	}
}

func readASCIIRow(r *bufio.Reader, values []float64) error {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || len(line) == 0) {
		return err
	}
	fields := strings.Fields(line)
	if len(fields) < len(values) {
		return fmt.Errorf("expected %d values, got %d", len(values), len(fields))
	}
	for i := range values {
		if values[i], err = strconv.ParseFloat(fields[i], 64); err != nil {
			return err
		}
	}
	return nil
}

func skipElement(r *bufio.Reader, e plyElement, format plyFormat) error {
	if format == plyASCII {
		for i := 0; i < e.count; i++ {
			if _, err := r.ReadString('\n'); err != nil {
				return fmt.Errorf("can't skip PLY element %q: %v", e.name, err)
			}
		}
		return nil
	}
	if _, err := r.Discard(e.count * e.stride()); err != nil {
		return fmt.Errorf("can't skip PLY element %q: %v", e.name, err)
	}
	return nil
}

// WritePLY writes the set as a binary little-endian 3D Gaussian Splatting PLY file.
func WritePLY(w io.Writer, s *Set) error {
	if err := s.Validate(); err != nil {
		return err
	}
	n, k := s.Len(), s.Coeffs()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat binary_little_endian 1.0\nelement vertex %d\n", n)
	names := []string{"x", "y", "z", "f_dc_0", "f_dc_1", "f_dc_2"}
	for m := 0; m < 3*k; m++ {
		names = append(names, fmt.Sprintf("f_rest_%d", m))
	}
	names = append(names, "opacity", "scale_0", "scale_1", "scale_2", "rot_0", "rot_1", "rot_2", "rot_3")
	for _, name := range names {
		fmt.Fprintf(bw, "property float %s\n", name)
	}
	bw.WriteString("end_header\n")

	row := make([]float32, len(names))
	buf := make([]byte, 4*len(row))
	for i := 0; i < n; i++ {
		copy(row[0:3], s.Means[i*3:i*3+3])
		copy(row[3:6], s.SH0[i*3:i*3+3])
		off := 6
		for c := 0; c < 3; c++ {
			for j := 0; j < k; j++ {
				row[off] = s.SHN[i*k*3+j*3+c]
				off++
			}
		}
		row[off] = s.Opacities[i]
		copy(row[off+1:off+4], s.Scales[i*3:i*3+3])
		copy(row[off+4:off+8], s.Rotations[i*4:i*4+4])
		for p, v := range row {
			binary.LittleEndian.PutUint32(buf[p*4:], math.Float32bits(v))
		}
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}
