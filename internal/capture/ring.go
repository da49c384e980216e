package capture

import "fmt"

// AFPacketConfig tunes a device capture.
type AFPacketConfig struct {
	Device       string // empty captures on every interface
	SnapLen      int
	BufferSizeMB int
	TimeoutMs    int
	FanoutID     uint16
	Filter       string
}

func (c *AFPacketConfig) applyDefaults() {
	if c.SnapLen <= 0 {
		c.SnapLen = 65535
	}
	if c.BufferSizeMB <= 0 {
		c.BufferSizeMB = 8
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 100
	}
}

// recomputeSize derives a PACKET_MMAP ring geometry from a memory budget and
// snap length. The kernel requires:
//  1. frameSize a multiple of TPACKET_ALIGNMENT (16)
//  2. blockSize a multiple of pageSize
//  3. blockSize a multiple of frameSize
//
// and blockSize * numBlocks approximates ringBufferSizeMB.
func recomputeSize(ringBufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52 // TPACKET3_HDRLEN rounded up with sockaddr_ll
	const maxBlockSize = 4 * 1024 * 1024

	if ringBufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring buffer size must be positive, got %d MB", ringBufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	// Smallest block holding whole frames on a page boundary, or as many
	// frames as fit in the largest block we allow.
	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		framesPerBlock := max(maxBlockSize/frameSize, 1)
		blockSize = alignUp(framesPerBlock*frameSize, pageSize)
		if blockSize%frameSize != 0 {
			// A page-aligned block that is also frame-aligned may not exist
			// below the cap; fall back to one frame per page run.
			frameSize = alignUp(frameSize, pageSize)
			blockSize = frameSize * max(maxBlockSize/frameSize, 1)
		}
	}

	numBlocks = max((ringBufferSizeMB*1024*1024)/blockSize, 1)
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
