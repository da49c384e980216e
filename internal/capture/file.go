package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/netweaver/internal/core"
)

const pcapngMagic = 0x0A0D0D0A

type pcapReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource replays a pcap or pcapng file.
type FileSource struct {
	path   string
	file   *os.File
	reader pcapReader
}

// OpenFile opens a capture file, detecting pcap and pcapng by magic number.
func OpenFile(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: capture file path is required", core.ErrInvalidParam)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: capture file %s: %w", core.ErrInvalidParam, path, err)
	}

	var r pcapReader
	if binary.BigEndian.Uint32(magic) == pcapngMagic {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: capture file %s: %w", core.ErrInvalidParam, path, err)
	}
	if _, err := filterLink(r.LinkType()); err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{path: path, file: f, reader: r}, nil
}

// ReadPacketData returns io.EOF after the last record.
func (fs *FileSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if fs.file == nil {
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("%w: file source closed", core.ErrInvalidParam)
	}
	return fs.reader.ReadPacketData()
}

func (fs *FileSource) LinkType() layers.LinkType {
	return fs.reader.LinkType()
}

func (fs *FileSource) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
