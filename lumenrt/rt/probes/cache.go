package probes

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	cacheMagic   = "LPRB"
	cacheVersion = 1
	cacheExt     = ".lprb"
)

// ErrCacheMiss means the blob exists but was written for a different probe layout.
var ErrCacheMiss = errors.New("probe cache miss")

// cacheKey is everything a blob header must match to be reused.
type cacheKey struct {
	Type     ProbeType
	FaceSize uint32
	Mips     uint32
	Grid     [3]int
}

type cacheHeader struct {
	Magic    [4]byte
	Version  uint32
	Type     uint32
	FaceSize uint32
	Mips     uint32
	Grid     [3]int32
	BakeID   uuid.UUID
}

func (k cacheKey) header(bakeID uuid.UUID) cacheHeader {
	h := cacheHeader{
		Version:  cacheVersion,
		Type:     uint32(k.Type),
		FaceSize: k.FaceSize,
		Mips:     k.Mips,
		Grid:     [3]int32{int32(k.Grid[0]), int32(k.Grid[1]), int32(k.Grid[2])},
		BakeID:   bakeID,
	}
	copy(h.Magic[:], cacheMagic)
	return h
}

// probeDir is <level>/diffuse_probes or <level>/specular_probes.
func probeDir(levelPath string, t ProbeType) string {
	return filepath.Join(levelPath, t.String()+"_probes")
}

func probePath(levelPath string, t ProbeType, grid [3]int) string {
	return filepath.Join(probeDir(levelPath, t), fmt.Sprintf("probe_%d_%d_%d%s", grid[0], grid[1], grid[2], cacheExt))
}

func globalProbePath(levelPath string, t ProbeType) string {
	return filepath.Join(probeDir(levelPath, t), "global"+cacheExt)
}

func encodeProbe(w io.Writer, key cacheKey, data *CubemapData) error {
	if data.Size != key.FaceSize || data.Mips != key.Mips {
		return fmt.Errorf("cubemap is %dx%d mips, key wants %dx%d", data.Size, data.Mips, key.FaceSize, key.Mips)
	}
	if err := binary.Write(w, binary.LittleEndian, key.header(data.BakeID)); err != nil {
		return err
	}
	for m := range data.Faces {
		for f := 0; f < CubemapFaces; f++ {
			if err := binary.Write(w, binary.LittleEndian, data.Faces[m][f]); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeProbe(r io.Reader, key cacheKey) (*CubemapData, error) {
	var h cacheHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCacheMiss, err)
	}
	want := key.header(h.BakeID)
	if h != want {
		return nil, fmt.Errorf("%w: header %+v does not match %+v", ErrCacheMiss, h, want)
	}
	if h.BakeID == uuid.Nil {
		return nil, fmt.Errorf("%w: blob has no bake id", ErrCacheMiss)
	}
	data := NewCubemapData(key.FaceSize, key.Mips)
	data.BakeID = h.BakeID
	for m := range data.Faces {
		for f := 0; f < CubemapFaces; f++ {
			if err := binary.Read(r, binary.LittleEndian, data.Faces[m][f]); err != nil {
				return nil, fmt.Errorf("%w: mip %d face %d: %v", ErrCacheMiss, m, f, err)
			}
		}
	}
	return data, nil
}

// storeProbe writes through a temporary file so a crash never leaves a truncated blob behind.
func storeProbe(path string, key cacheKey, data *CubemapData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "probe-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := encodeProbe(w, key, data); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func loadProbe(path string, key cacheKey) (*CubemapData, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrCacheMiss, err)
		}
		return nil, err
	}
	defer f.Close()
	return decodeProbe(bufio.NewReader(f), key)
}
