// Package serialstream adapts a physical UART to the framer.Stream
// interface: a background goroutine drains the port into a buffered
// channel so the engine's single-threaded poll loop never blocks on
// the OS read call.
package serialstream

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// channelCapacity bounds how many unread bytes the background reader
// may buffer before it starts blocking on the channel send.
const channelCapacity = 4096

// SerialStream is a framer.Stream backed by a real serial port.
type SerialStream struct {
	port serial.Port

	rx       chan byte
	stopChan chan struct{}
	wg       sync.WaitGroup

	writeMu sync.Mutex
}

// Open opens devicePath at baud 8N1 and starts the background reader.
func Open(devicePath string, baud int) (*SerialStream, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(devicePath, mode)
	if err != nil {
		return nil, fmt.Errorf("serialstream: open %s: %w", devicePath, err)
	}

	s := &SerialStream{
		port:     port,
		rx:       make(chan byte, channelCapacity),
		stopChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

func (s *SerialStream) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, 256)
	log.Printf("serialstream: starting read loop")

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("serialstream: read error: %v", err)
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}
		for _, b := range buf[:n] {
			select {
			case s.rx <- b:
			case <-s.stopChan:
				return
			}
		}
	}
}

// Available reports how many bytes are currently buffered and ready
// for Read, without blocking.
func (s *SerialStream) Available() int { return len(s.rx) }

// Read returns the next buffered byte, or -1 if none is ready.
func (s *SerialStream) Read() int {
	select {
	case b := <-s.rx:
		return int(b)
	default:
		return -1
	}
}

// Write writes a single byte, returning 1 on success or 0 on failure.
func (s *SerialStream) Write(b byte) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.port.Write([]byte{b}); err != nil {
		log.Printf("serialstream: write error: %v", err)
		return 0
	}
	return 1
}

// WriteBytes writes data in one shot, returning len(data) on success
// or 0 on failure.
func (s *SerialStream) WriteBytes(data []byte) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write(data)
	if err != nil {
		log.Printf("serialstream: write error: %v", err)
		return 0
	}
	return n
}

// Close stops the read loop and closes the underlying port.
func (s *SerialStream) Close() error {
	close(s.stopChan)
	s.wg.Wait()
	return s.port.Close()
}
