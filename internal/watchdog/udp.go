package watchdog

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/svcwatchdogteam/svcwatchdog/internal/events"
)

// udpListener is the liveness channel: a datagram socket on the IPv4
// loopback, read without ever blocking the poll loop.
type udpListener struct {
	conn *net.UDPConn
	port int
	buf  [1024]byte
}

// newSecret builds the per-run ping payload from PRNG output and the
// current monotonic time.
func newSecret() string {
	u := uuid.New()
	var b []byte
	for _, c := range u.String() {
		if c != '-' {
			b = append(b, byte(c))
		}
	}
	return string(b) + strconv.FormatUint(steadyTime(), 10)
}

// startUDPWatchdog binds 127.0.0.1:0 and returns the listener, or nil
// when the bind fails; liveness then degrades to exit detection only
// for this run.
func (w *Watchdog) startUDPWatchdog() *udpListener {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		w.logger.Errorf("failed to create UDP socket: %v", err)
		return nil
	}

	port := conn.LocalAddr().(*net.UDPAddr).Port
	w.logger.Infof("listening on 127.0.0.1:%d (UDP)", port)
	return &udpListener{conn: conn, port: port}
}

// drainPings reads every datagram currently queued on the socket and
// counts the ones whose payload matches the secret byte-for-byte.
// Mismatched payloads are printable-normalized and logged.
func (w *Watchdog) drainPings() int {
	valid := 0

	// An imminent deadline makes every read return promptly: queued
	// datagrams are handed over, then the read times out instead of
	// blocking.
	w.watchdogConn.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	for {
		n, _, err := w.watchdogConn.conn.ReadFromUDP(w.watchdogConn.buf[:])
		if err != nil {
			if !isTimeout(err) {
				w.logger.Errorf("recvfrom failed: %v", err)
			}
			return valid
		}

		payload := w.watchdogConn.buf[:n]
		if string(payload) == w.secret {
			w.logger.Verbosef("received watchdog ping")
			w.bus.Publish(events.Event{Type: events.WatchdogPing})
			valid++
			continue
		}

		w.logger.Warningf("received invalid ping data: %s", printable(payload))
	}
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

// printable replaces non-printable bytes with spaces before logging
// attacker-controlled data.
func printable(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b < 0x20 || b > 0x7e {
			out[i] = ' '
		} else {
			out[i] = b
		}
	}
	return string(out)
}
