package frame

// CI values used by meters that split one notification across frames.
const (
	CIContinued = 0x00
	CIFinal     = 0x11
)

// Wrap splits userData into long frames of at most MaxUserData bytes each.
// Every frame but the last carries CIContinued, the last carries CIFinal.
func Wrap(userData []byte, control, address byte) []byte {
	out := make([]byte, 0, len(userData)+(len(userData)/MaxUserData+1)*(HeaderLen+FooterLen))
	for offset := 0; ; offset += MaxUserData {
		end := offset + MaxUserData
		ci := byte(CIContinued)
		if end >= len(userData) {
			end = len(userData)
			ci = CIFinal
		}
		out = appendFrame(out, control, address, ci, userData[offset:end])
		if ci == CIFinal {
			return out
		}
	}
}

func appendFrame(dst []byte, control, address, ci byte, payload []byte) []byte {
	l := byte(len(payload) + controlFieldLen)
	dst = append(dst, StartByte, l, l, StartByte, control, address, ci)
	dst = append(dst, payload...)
	sum := control + address + ci + checksum(payload)
	return append(dst, sum, StopByte)
}
