// Package matfile reads and writes the MATLAB v5 (.mat) container used to
// persist a Flat Background's five named sparse matrices, the Go
// equivalent of flat_background.py's _write_mat/from_matfile pair built on
// scipy.io.savemat/loadmat. Only what those two call — double-precision,
// real-valued, column-compressed sparse arrays — is supported; the
// general MAT5 element zoo (cells, structs, complex, char) is out of
// scope.
package matfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/james-bowman/sparse"

	"github.com/antelope-go/tarjanbg/internal/errors"
)

const (
	miInt32  = 5
	miUInt32 = 6
	miDouble = 9
	miMatrix = 14

	mxSparseClass = 5
)

// Named associates a matrix with the variable name it is stored under
// (the MATLAB struct-field-like convention flat_background.py uses: "Af",
// "Ad", "Bf", "A", "B").
type Named struct {
	Name   string
	Matrix *sparse.CSC
}

// Write serializes vars to w as a MAT5 file containing one sparse double
// array per Named entry, in order.
func Write(w io.Writer, vars []Named) error {
	header := make([]byte, 128)
	copy(header, []byte("MATLAB 5.0 MAT-file, tarjanbg background engine, "+time.Now().UTC().Format("2006-01-02")))
	binary.LittleEndian.PutUint16(header[124:126], 0x0100) // version
	header[126] = 'I'
	header[127] = 'M'
	if _, err := w.Write(header); err != nil {
		return errors.WithStackTrace(err)
	}

	for _, v := range vars {
		if err := writeMatrix(w, v.Name, v.Matrix); err != nil {
			return err
		}
	}
	return nil
}

func writeMatrix(w io.Writer, name string, m *sparse.CSC) error {
	var body bytes.Buffer

	rows, cols := 0, 0
	var ir, jc []int32
	var pr []float64
	if m != nil {
		rows, cols = m.Dims()
		ir, jc, pr = extractCSC(m)
	} else {
		jc = make([]int32, 1)
	}
	nnz := len(pr)

	// Array flags.
	writeTag(&body, miUInt32, 8)
	flags := make([]byte, 8)
	flags[0] = mxSparseClass
	binary.LittleEndian.PutUint32(flags[4:8], uint32(nnz))
	body.Write(flags)

	// Dimensions.
	writeTag(&body, miInt32, 8)
	dims := make([]byte, 8)
	binary.LittleEndian.PutUint32(dims[0:4], uint32(rows))
	binary.LittleEndian.PutUint32(dims[4:8], uint32(cols))
	body.Write(dims)

	// Array name.
	writeTag(&body, 1, len(name))
	body.WriteString(name)
	padTo8(&body, len(name))

	// Row indices (ir).
	writeTag(&body, miInt32, len(ir)*4)
	for _, v := range ir {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		body.Write(b[:])
	}
	padTo8(&body, len(ir)*4)

	// Column pointers (jc).
	writeTag(&body, miInt32, len(jc)*4)
	for _, v := range jc {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		body.Write(b[:])
	}
	padTo8(&body, len(jc)*4)

	// Values (pr).
	writeTag(&body, miDouble, len(pr)*8)
	for _, v := range pr {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		body.Write(b[:])
	}
	padTo8(&body, len(pr)*8)

	var out bytes.Buffer
	writeTag(&out, miMatrix, body.Len())
	out.Write(body.Bytes())
	padTo8(&out, body.Len())

	_, err := w.Write(out.Bytes())
	return errors.WithStackTrace(err)
}

// Read parses a MAT5 file written by Write, returning every named sparse
// matrix it contains in file order.
func Read(r io.Reader) ([]Named, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStackTrace(err)
	}
	if len(data) < 128 {
		return nil, errors.New(errors.UnsupportedFiletypeError{Path: "<reader>", Ext: ".mat"})
	}

	pos := 128
	var out []Named
	for pos < len(data) {
		typ, size, payload, next := readTag(data, pos)
		if typ != miMatrix {
			pos = next
			continue
		}
		named, err := readMatrix(payload[:size])
		if err != nil {
			return nil, err
		}
		out = append(out, named)
		pos = next
	}
	return out, nil
}

func readMatrix(data []byte) (Named, error) {
	pos := 0

	_, _, flagsData, next := readTag(data, pos)
	nnz := int(binary.LittleEndian.Uint32(flagsData[4:8]))
	pos = next

	_, _, dimsData, next := readTag(data, pos)
	rows := int(binary.LittleEndian.Uint32(dimsData[0:4]))
	cols := int(binary.LittleEndian.Uint32(dimsData[4:8]))
	pos = next

	_, nameSize, nameData, next := readTag(data, pos)
	name := string(nameData[:nameSize])
	pos = next

	_, irSize, irData, next := readTag(data, pos)
	ir := make([]int32, irSize/4)
	for i := range ir {
		ir[i] = int32(binary.LittleEndian.Uint32(irData[i*4 : i*4+4]))
	}
	pos = next

	_, jcSize, jcData, next := readTag(data, pos)
	jc := make([]int32, jcSize/4)
	for i := range jc {
		jc[i] = int32(binary.LittleEndian.Uint32(jcData[i*4 : i*4+4]))
	}
	pos = next

	_, prSize, prData, _ := readTag(data, pos)
	pr := make([]float64, prSize/8)
	for i := range pr {
		pr[i] = math.Float64frombits(binary.LittleEndian.Uint64(prData[i*8 : i*8+8]))
	}

	dok := sparse.NewDOK(rows, cols)
	for col := 0; col < cols && col < len(jc)-1; col++ {
		for k := jc[col]; k < jc[col+1] && int(k) < nnz; k++ {
			dok.Set(int(ir[k]), col, pr[k])
		}
	}

	return Named{Name: name, Matrix: dok.ToCSC()}, nil
}

func writeTag(buf *bytes.Buffer, typ uint32, size int) {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], typ)
	binary.LittleEndian.PutUint32(b[4:8], uint32(size))
	buf.Write(b[:])
}

// readTag reads an 8-byte tag at pos and returns the element type, its
// declared byte size, a slice over its (unpadded) payload, and the offset
// of the next tag after accounting for 8-byte padding.
func readTag(data []byte, pos int) (typ uint32, size int, payload []byte, next int) {
	typ = binary.LittleEndian.Uint32(data[pos : pos+4])
	size = int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
	start := pos + 8
	payload = data[start : start+size]
	padded := size
	if rem := padded % 8; rem != 0 {
		padded += 8 - rem
	}
	next = start + padded
	return
}

func padTo8(buf *bytes.Buffer, size int) {
	if rem := size % 8; rem != 0 {
		buf.Write(make([]byte, 8-rem))
	}
}

// extractCSC walks m column-major via At, which every gonum/sparse matrix
// type supports, rather than depending on a column-iterator method that
// may not exist on every concrete sparse type this package is handed.
func extractCSC(m *sparse.CSC) (ir, jc []int32, pr []float64) {
	rows, cols := m.Dims()
	jc = make([]int32, cols+1)
	for col := 0; col < cols; col++ {
		for row := 0; row < rows; row++ {
			v := m.At(row, col)
			if v == 0 {
				continue
			}
			ir = append(ir, int32(row))
			pr = append(pr, v)
		}
		jc[col+1] = int32(len(ir))
	}
	return ir, jc, pr
}
