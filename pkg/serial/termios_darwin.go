//go:build darwin

package serial

import "golang.org/x/sys/unix"

const (
	reqGetTermios = unix.TIOCGETA
	reqSetTermios = unix.TIOCSETA
)

var baudRates = map[int]uint64{
	1200: unix.B1200, 2400: unix.B2400, 4800: unix.B4800, 9600: unix.B9600,
	19200: unix.B19200, 38400: unix.B38400, 57600: unix.B57600,
	115200: unix.B115200, 230400: unix.B230400,
}

func baudConstant(baud int) (uint32, bool) {
	s, ok := baudRates[baud]
	return uint32(s), ok
}

func setSpeed(t *unix.Termios, speed uint32) {
	t.Ispeed = uint64(speed)
	t.Ospeed = uint64(speed)
}

func flush(fd int) error {
	return unix.IoctlSetPointerInt(fd, unix.TIOCFLUSH, 3) // FREAD|FWRITE
}
