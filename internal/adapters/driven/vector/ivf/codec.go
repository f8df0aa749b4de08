package ivf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// Precision defines the storage precision for vectors.
// Runtime operations always use float32; this only affects disk storage.
type Precision uint8

const (
	// PrecisionFloat32 stores vectors at full precision.
	PrecisionFloat32 Precision = 0
	// PrecisionFloat16 stores vectors at half precision.
	PrecisionFloat16 Precision = 1
	// PrecisionInt8 stores vectors as 8-bit integers with a per-vector scale.
	PrecisionInt8 Precision = 2
)

// ParsePrecision converts a precision name into a Precision.
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "float32", "":
		return PrecisionFloat32, nil
	case "float16":
		return PrecisionFloat16, nil
	case "int8":
		return PrecisionInt8, nil
	default:
		return 0, fmt.Errorf("ivf: unknown precision %q", s)
	}
}

var magic = [4]byte{'S', 'I', 'V', 'F'}

const formatVersion uint16 = 1

type snapshot struct {
	dimension int
	precision Precision
	vectors   map[string][]float32
}

type header struct {
	Magic     [4]byte
	Version   uint16
	Precision Precision
	Dimension uint32
	Count     uint32
}

// writeFile replaces path with the encoded snapshot via a temp file and rename.
func writeFile(path string, snap snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ivf: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("ivf: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	w := bufio.NewWriter(tmp)
	if err := encode(w, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("ivf: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ivf: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ivf: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("ivf: replace %s: %w", path, err)
	}
	return nil
}

func encode(w io.Writer, snap snapshot) error {
	h := header{
		Magic:     magic,
		Version:   formatVersion,
		Precision: snap.precision,
		Dimension: uint32(snap.dimension),
		Count:     uint32(len(snap.vectors)),
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("ivf: write header: %w", err)
	}

	ids := make([]string, 0, len(snap.vectors))
	for id := range snap.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if len(id) > math.MaxUint16 {
			return fmt.Errorf("ivf: id too long: %d bytes", len(id))
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(id))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, id); err != nil {
			return err
		}
		if err := writeVector(w, snap.precision, snap.vectors[id]); err != nil {
			return err
		}
	}
	return nil
}

func decode(r io.Reader) (snapshot, error) {
	br := bufio.NewReader(r)
	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return snapshot{}, fmt.Errorf("read header: %w", err)
	}
	if h.Magic != magic {
		return snapshot{}, errors.New("bad magic")
	}
	if h.Version != formatVersion {
		return snapshot{}, fmt.Errorf("unsupported version %d", h.Version)
	}

	snap := snapshot{
		dimension: int(h.Dimension),
		precision: h.Precision,
		vectors:   make(map[string][]float32, h.Count),
	}
	for i := uint32(0); i < h.Count; i++ {
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return snapshot{}, fmt.Errorf("read entry %d: %w", i, err)
		}
		id := make([]byte, n)
		if _, err := io.ReadFull(br, id); err != nil {
			return snapshot{}, fmt.Errorf("read entry %d id: %w", i, err)
		}
		vec, err := readVector(br, h.Precision, snap.dimension)
		if err != nil {
			return snapshot{}, fmt.Errorf("read entry %d vector: %w", i, err)
		}
		snap.vectors[string(id)] = vec
	}
	return snap, nil
}

func writeVector(w io.Writer, p Precision, v []float32) error {
	switch p {
	case PrecisionFloat32:
		return binary.Write(w, binary.LittleEndian, v)
	case PrecisionFloat16:
		half := make([]uint16, len(v))
		for i, x := range v {
			half[i] = float32ToHalf(x)
		}
		return binary.Write(w, binary.LittleEndian, half)
	case PrecisionInt8:
		var peak float32
		for _, x := range v {
			if a := float32(math.Abs(float64(x))); a > peak {
				peak = a
			}
		}
		scale := peak / 127
		q := make([]int8, len(v))
		if scale > 0 {
			for i, x := range v {
				q[i] = int8(math.Round(float64(x / scale)))
			}
		}
		if err := binary.Write(w, binary.LittleEndian, scale); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, q)
	default:
		return fmt.Errorf("ivf: unknown precision %d", p)
	}
}

func readVector(r io.Reader, p Precision, dim int) ([]float32, error) {
	v := make([]float32, dim)
	switch p {
	case PrecisionFloat32:
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	case PrecisionFloat16:
		half := make([]uint16, dim)
		if err := binary.Read(r, binary.LittleEndian, half); err != nil {
			return nil, err
		}
		for i, h := range half {
			v[i] = halfToFloat32(h)
		}
	case PrecisionInt8:
		var scale float32
		if err := binary.Read(r, binary.LittleEndian, &scale); err != nil {
			return nil, err
		}
		q := make([]int8, dim)
		if err := binary.Read(r, binary.LittleEndian, q); err != nil {
			return nil, err
		}
		for i, x := range q {
			v[i] = float32(x) * scale
		}
	default:
		return nil, fmt.Errorf("unknown precision %d", p)
	}
	return v, nil
}

func float32ToHalf(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	rawExp := int((b >> 23) & 0xff)
	exp := rawExp - 127 + 15
	mant := b & 0x7fffff

	switch {
	case rawExp == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		return sign | uint16(mant>>uint(14-exp))
	default:
		return sign | uint16(exp)<<10 | uint16(mant>>13)
	}
}

func halfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0:
		f := float32(mant) / (1 << 24)
		if sign != 0 {
			f = -f
		}
		return f
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp-15+127)<<23 | mant<<13)
	}
}
