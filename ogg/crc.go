package ogg

// Ogg CRC-32: polynomial 0x04C11DB7, initial value 0, no bit reflection and
// no final xor. This is not the reflected IEEE CRC in hash/crc32.
var crcTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

// Checksum computes the Ogg CRC-32 of data.
func Checksum(data []byte) uint32 {
	return ChecksumUpdate(0, data)
}

// ChecksumUpdate continues a running checksum over more data.
func ChecksumUpdate(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
