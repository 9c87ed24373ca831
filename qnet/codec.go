package qnet

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

var checkpointMagic = [4]byte{'Z', 'Q', 'N', '1'}

// WriteTo serializes the network: magic, layer count, then length-prefixed
// gonum binary blobs for each layer's weights and biases.
func (n *Network) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.Write(checkpointMagic[:])
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(n.layers)))

	for i, l := range n.layers {
		wb, err := l.w.MarshalBinary()
		if err != nil {
			return 0, fmt.Errorf("marshal layer %d weights: %w", i, err)
		}
		bb, err := l.b.MarshalBinary()
		if err != nil {
			return 0, fmt.Errorf("marshal layer %d bias: %w", i, err)
		}
		for _, blob := range [][]byte{wb, bb} {
			_ = binary.Write(&buf, binary.LittleEndian, uint32(len(blob)))
			buf.Write(blob)
		}
	}
	return buf.WriteTo(w)
}

// ReadNetwork decodes a network written by WriteTo.
func ReadNetwork(r io.Reader) (*Network, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != checkpointMagic {
		return nil, fmt.Errorf("%w: bad checkpoint magic %q", ErrShape, magic[:])
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read layer count: %w", err)
	}
	if count == 0 || count > 64 {
		return nil, fmt.Errorf("%w: implausible layer count %d", ErrShape, count)
	}

	readBlob := func() ([]byte, error) {
		var size uint32
		if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
			return nil, err
		}
		blob := make([]byte, size)
		if _, err := io.ReadFull(br, blob); err != nil {
			return nil, err
		}
		return blob, nil
	}

	n := &Network{}
	for i := 0; i < int(count); i++ {
		wb, err := readBlob()
		if err != nil {
			return nil, fmt.Errorf("read layer %d weights: %w", i, err)
		}
		bb, err := readBlob()
		if err != nil {
			return nil, fmt.Errorf("read layer %d bias: %w", i, err)
		}

		var w mat.Dense
		if err := w.UnmarshalBinary(wb); err != nil {
			return nil, fmt.Errorf("decode layer %d weights: %w", i, err)
		}
		var b mat.VecDense
		if err := b.UnmarshalBinary(bb); err != nil {
			return nil, fmt.Errorf("decode layer %d bias: %w", i, err)
		}

		out, in := w.Dims()
		if b.Len() != out {
			return nil, fmt.Errorf("%w: layer %d bias %d for %d outputs", ErrShape, i, b.Len(), out)
		}
		if i == 0 {
			n.sizes = append(n.sizes, in)
		} else if n.sizes[i] != in {
			return nil, fmt.Errorf("%w: layer %d input %d, previous output %d", ErrShape, i, in, n.sizes[i])
		}
		n.sizes = append(n.sizes, out)
		n.layers = append(n.layers, layer{w: &w, b: &b})
	}
	return n, nil
}

// SaveFile writes the network to path through a temp file and rename, so a
// reader never observes a partial checkpoint.
func (n *Network) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open tmp checkpoint: %w", err)
	}
	if _, err := n.WriteTo(f); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// LoadFile reads a checkpoint. A missing file yields an error wrapping
// fs.ErrNotExist.
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	n, err := ReadNetwork(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return n, nil
}
