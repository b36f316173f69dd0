// Package ogg reads and writes physical Ogg pages.
//
// A page is a 27-byte header, a segment table, and a payload:
//
//	Bytes 0-3:   "OggS" capture pattern
//	Byte 4:      stream structure version (0)
//	Byte 5:      header type flags (continued, first page, last page)
//	Bytes 6-13:  granule position
//	Bytes 14-17: bitstream serial number
//	Bytes 18-21: page sequence number
//	Bytes 22-25: CRC-32 of the whole page, computed with this field zeroed
//	Byte 26:     segment count
//	Bytes 27+:   segment table, then payload
//
// All multi-byte fields are little-endian. Each segment table entry is a
// lacing value: 255 means the packet continues in the next entry, anything
// smaller ends it.
//
// Only pages carrying at most one complete packet can be turned into a
// packet by [Page.Packet]; reassembly of packets that share or span pages is
// not supported.
package ogg
