package tfc

// Entry is one well-known archive identity.
type Entry struct {
	Name string
	GUID [16]byte
}

// Catalog lists the archives new payloads may move to, in the order they
// are tried.
var Catalog = []Entry{
	{Name: "Texture2D", GUID: [16]byte{0x11, 0xD3, 0xC3, 0x39, 0xB3, 0x40, 0x44, 0x61, 0xBB, 0x0E, 0x76, 0x75, 0x2D, 0xF7, 0xC3, 0xB1}},
	{Name: "IntProperty", GUID: [16]byte{0x81, 0xCD, 0x12, 0x5C, 0xBB, 0x72, 0x40, 0x2D, 0x99, 0xB1, 0x63, 0x8D, 0xC0, 0xA7, 0x6E, 0x03}},
	{Name: "ByteProperty", GUID: [16]byte{0xA5, 0xBE, 0xFF, 0x48, 0xB4, 0x7A, 0x47, 0xB0, 0xB2, 0x07, 0x2B, 0x35, 0x96, 0x39, 0x55, 0xFB}},
	{Name: "Format", GUID: [16]byte{0x2B, 0x7D, 0x2F, 0x16, 0x63, 0x52, 0x4F, 0x3E, 0x97, 0x5B, 0x0E, 0xF2, 0xC1, 0xEB, 0xC6, 0x5D}},
	{Name: "SizeX", GUID: [16]byte{0x59, 0xF2, 0x1B, 0x17, 0xD0, 0xFE, 0x42, 0x3E, 0x94, 0x8A, 0x26, 0xBE, 0x26, 0x3C, 0x46, 0x2E}},
	{Name: "SizeY", GUID: [16]byte{0x0C, 0x70, 0x7A, 0x01, 0xA0, 0xC1, 0x49, 0xB4, 0x97, 0x8D, 0x3B, 0xA4, 0x94, 0x71, 0xBE, 0x43}},
	{Name: "None", GUID: [16]byte{0xCC, 0xB9, 0x93, 0xFB, 0xD9, 0x56, 0x49, 0x9B, 0xA7, 0x06, 0x9B, 0xD8, 0x37, 0x69, 0x10, 0x9E}},
}
