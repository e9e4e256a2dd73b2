package tp

import "time"

// Protocol control information, high nibble of the first payload byte.
const (
	pciSingle      = 0x0
	pciFirst       = 0x1
	pciConsecutive = 0x2
	pciFlowControl = 0x3
)

// Flow status values carried in a flow control frame.
const (
	fsContinueToSend = 0x0
	fsWait           = 0x1
	fsOverflow       = 0x2
)

// Capacity limits for classical CAN framing.
const (
	maxSingleLen  = 7    // payload bytes in a single frame
	firstHeadLen  = 6    // payload bytes carried by a first frame
	maxChunkLen   = 7    // payload bytes per consecutive frame
	maxMessageLen = 4095 // 12-bit first-frame length field
)

// appendSingle builds a single frame: PCI 0x0N where N is the payload length.
func appendSingle(dst []byte, payload []byte) []byte {
	dst = append(dst, byte(pciSingle<<4)|byte(len(payload)))
	return append(dst, payload...)
}

// appendFirst builds a first frame carrying the 12-bit total length and the
// leading firstHeadLen payload bytes.
func appendFirst(dst []byte, total int, head []byte) []byte {
	dst = append(dst, byte(pciFirst<<4)|byte(total>>8&0x0F), byte(total))
	return append(dst, head...)
}

// appendConsecutive builds a consecutive frame with the 4-bit sequence number.
func appendConsecutive(dst []byte, sn byte, chunk []byte) []byte {
	dst = append(dst, byte(pciConsecutive<<4)|sn&0x0F)
	return append(dst, chunk...)
}

// appendFlowControl builds a flow control frame: status, block size, STmin.
func appendFlowControl(dst []byte, status byte, blockSize uint8, stmin byte) []byte {
	return append(dst, byte(pciFlowControl<<4)|status&0x0F, blockSize, stmin)
}

// decodeSTmin interprets the raw STmin byte per ISO 15765-2: 0x00-0x7F are
// milliseconds, 0xF1-0xF9 are 100-900 microseconds, everything else is
// reserved and read as the maximum of 127 ms.
func decodeSTmin(b byte) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return 127 * time.Millisecond
	}
}
