//go:build linux

package serial

import "golang.org/x/sys/unix"

const (
	reqGetTermios = unix.TCGETS
	reqSetTermios = unix.TCSETS
)

var baudRates = map[int]uint32{
	1200: unix.B1200, 2400: unix.B2400, 4800: unix.B4800, 9600: unix.B9600,
	19200: unix.B19200, 38400: unix.B38400, 57600: unix.B57600,
	115200: unix.B115200, 230400: unix.B230400, 460800: unix.B460800,
	500000: unix.B500000, 921600: unix.B921600, 1000000: unix.B1000000,
}

func baudConstant(baud int) (uint32, bool) {
	s, ok := baudRates[baud]
	return s, ok
}

// setSpeed stores the rate in the CBAUD bits as well as the speed fields.
func setSpeed(t *unix.Termios, speed uint32) {
	t.Cflag = t.Cflag&^unix.CBAUD | speed&unix.CBAUD
	t.Ispeed = speed
	t.Ospeed = speed
}

func flush(fd int) error {
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
}
