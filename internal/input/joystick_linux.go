//go:build linux

package input

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// absInfo mirrors struct input_absinfo.
type absInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// eviocgabs is EVIOCGABS(0): _IOR('E', 0x40 + abs, struct input_absinfo).
const eviocgabs = 0x80184540

func queryAxis(fd uintptr, code int) (AxisRange, bool) {
	var info absInfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(eviocgabs+code), uintptr(unsafe.Pointer(&info)))
	if errno != 0 || info.Maximum <= info.Minimum {
		return AxisRange{}, false
	}
	return AxisRange{Min: info.Minimum, Max: info.Maximum}, true
}

// OpenJoystick opens the configured devices and starts reading them with a
// single epoll loop.
func OpenJoystick(cfg JoystickConfig, logger *slog.Logger) (*Joystick, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Devices) == 0 {
		return nil, errors.New("no input devices provided")
	}

	var files []*os.File
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, path := range cfg.Devices {
		f, err := os.Open(path)
		if err != nil {
			closeFiles()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		files = append(files, f)
	}

	ranges := make(map[int]AxisRange)
	for code := 0; code < axisCount; code++ {
		if r, ok := cfg.Ranges[code]; ok {
			ranges[code] = r
			continue
		}
		for _, f := range files {
			if r, ok := queryAxis(f.Fd(), code); ok {
				ranges[code] = r
				break
			}
		}
	}

	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		closeFiles()
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	j := &Joystick{
		events: make(chan Event, 64),
		logger: logger,
		mapper: NewMapper(ranges),
	}
	done := make(chan struct{})
	// wakeMu guards wake against a write after the reader closed it.
	var wakeMu sync.Mutex
	wakeOpen := true
	j.closeFn = func() error {
		close(done)
		wakeMu.Lock()
		defer wakeMu.Unlock()
		if !wakeOpen {
			return nil
		}
		var one [8]byte
		one[0] = 1
		_, err := unix.Write(wake, one[:])
		return err
	}

	go func() {
		defer close(j.events)
		defer closeFiles()
		defer func() {
			wakeMu.Lock()
			wakeOpen = false
			unix.Close(wake)
			wakeMu.Unlock()
		}()
		if err := j.readEpoll(files, wake, done); err != nil {
			logger.Error("joystick input stopped", "error", err)
		}
	}()

	logger.Info("joystick opened", "devices", cfg.Devices)
	return j, nil
}

func (j *Joystick) readEpoll(files []*os.File, wake int, done <-chan struct{}) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int]*os.File)
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f
		event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			return fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err)
		}
	}
	wakeEvent := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wake)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wake, &wakeEvent); err != nil {
		return fmt.Errorf("epoll_ctl_add eventfd: %w", err)
	}

	epollEvents := make([]unix.EpollEvent, 16)
	buf := make([]byte, rawEventSize*64)

	for {
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			if fd == wake {
				return nil
			}
			f := fdToFile[fd]
			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("device error/hangup: %s", f.Name())
			}

			nr, err := f.Read(buf)
			if err != nil {
				return fmt.Errorf("read from %s: %w", f.Name(), err)
			}
			for _, ev := range decodeEvents(buf[:nr]) {
				if !j.dispatch(ev, done) {
					return nil
				}
			}
		}
	}
}
